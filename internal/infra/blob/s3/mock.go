package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a *Store backed by an in-memory fake HTTP transport
// that answers HeadObject for the given keys. Bucket defaults to mock-bucket.
func NewMockForTests(cfg Config, keys ...string) *Store {
	rt := &mockRoundTripperLite{objects: make(map[string]int)}
	for _, k := range keys {
		rt.objects[k] = len(k)
	}
	awsCfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	if cfg.Bucket == "" {
		cfg.Bucket = "mock-bucket"
	}
	store, _ := newStore(client, cfg)
	return store
}

// mockRoundTripperLite answers HEAD requests from a key set.
type mockRoundTripperLite struct {
	mu      sync.Mutex
	objects map[string]int
}

func (m *mockRoundTripperLite) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method != http.MethodHead {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	m.mu.Lock()
	size, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{
		"Content-Length": {fmt.Sprintf("%d", size)},
		"Content-Type":   {"image/png"},
		"ETag":           {"\"etag123\""},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}}, nil
}
