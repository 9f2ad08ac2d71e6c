// Package testutil provides a scripted stub database for postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Call is one statement the store issued.
type Call struct {
	Query string
	Args  []any
}

// Response scripts the outcome of statements whose text contains Match
// (case-insensitive). Responses are consulted in order; Once responses are
// consumed by their first match.
type Response struct {
	Match        string
	Columns      []string
	Rows         [][]driver.Value
	RowsAffected int64
	Err          error
	Once         bool
}

// StubConn records statements and replays scripted responses.
type StubConn struct {
	mu         sync.Mutex
	calls      []Call
	responses  []Response
	FailPing   error
	FailBegin  error
	FailCommit error
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by a single stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Script appends responses.
func (c *StubConn) Script(rs ...Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, rs...)
}

// Calls returns a copy of the recorded statements.
func (c *StubConn) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Executed reports whether any statement contained fragment.
func (c *StubConn) Executed(fragment string) bool {
	for _, call := range c.Calls() {
		if strings.Contains(strings.ToLower(call.Query), strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

func (c *StubConn) record(query string, args []driver.NamedValue) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.calls = append(c.calls, Call{Query: query, Args: vals})
	lower := strings.ToLower(query)
	for i, r := range c.responses {
		if !strings.Contains(lower, strings.ToLower(r.Match)) {
			continue
		}
		if r.Once {
			c.responses = append(c.responses[:i:i], c.responses[i+1:]...)
		}
		return r, true
	}
	return Response{}, false
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error { return c.FailPing }

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin != nil {
		return nil, c.FailBegin
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	r, ok := c.record(query, args)
	if !ok {
		return driver.RowsAffected(1), nil
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return driver.RowsAffected(r.RowsAffected), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	r, ok := c.record(query, args)
	if ok && r.Err != nil {
		return nil, r.Err
	}
	cols := r.Columns
	if len(cols) == 0 {
		cols = []string{"?column?"}
	}
	return &stubRows{cols: cols, rows: r.Rows}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error   { return t.conn.FailCommit }
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
