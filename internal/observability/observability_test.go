package observability

import (
	"bytes"
	"cardcore/internal/infra/persistence/memory"
	selectionmem "cardcore/internal/infra/selection/memory"
	"cardcore/internal/profiles"
	"cardcore/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerForwardsKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := WrapZap(zap.New(core))

	logger.Info("profiles loaded", "account", "u1", "count", 2)
	logger.Warn("legacy fallback")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["account"] != "u1" || fields["count"] != int64(2) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %v", entries[1].Level)
	}
}

func TestNewZapLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warn", "error"} {
		if _, err := NewZapLogger(lvl); err != nil {
			t.Fatalf("level %q: %v", lvl, err)
		}
	}
	if _, err := NewZapLogger("loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestExpvarRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), "load", true, 3*time.Millisecond)
	rec.Observe(context.Background(), "load", false, 2*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	if snap.DurationsMS["load"] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS["load"])
	}
	if snap.Results["load"]["success"] != 1 || snap.Results["load"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("expected recorder published as %s", rec.Name())
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	rec.Observe(context.Background(), "switch", true, time.Millisecond)
	rec.Observe(context.Background(), "switch", true, time.Millisecond)
	rec.Observe(context.Background(), "switch", false, time.Millisecond)

	if got := promtest.ToFloat64(rec.operations.WithLabelValues("switch", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := promtest.ToFloat64(rec.operations.WithLabelValues("switch", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := promtest.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "delete")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Status != "error" || entries[0].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != "delete" {
		t.Fatalf("unexpected operation %s", decoded.Operation)
	}
}

func TestEngineEmitsTelemetry(t *testing.T) {
	store := memory.NewStore()
	store.PutLegacyProfile(domain.Profile{OwnerAccountID: "u1", Handle: "alice"})
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := NewJSONTracer(nil)
	rec := NewExpvarMetricsRecorder("")
	engine := profiles.NewEngine(
		profiles.NewRepository(store, store, nil),
		selectionmem.New(),
		profiles.WithLogger(WrapZap(zap.New(core))),
		profiles.WithMetrics(rec),
		profiles.WithTracer(tracer),
	)
	if _, err := engine.SetAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if rec.Snapshot().Results["load"]["success"] != 1 {
		t.Fatalf("expected load metric, got %+v", rec.Snapshot().Results)
	}
	if len(tracer.Entries()) == 0 || tracer.Entries()[0].Operation != "load" {
		t.Fatalf("expected load span, got %+v", tracer.Entries())
	}
	if logs.Len() == 0 {
		t.Fatalf("expected engine log entries")
	}
}
