package storage

import (
	"context"
	"io"
	"time"

	"github.com/prn-tf/sendme/internal/metrics"
)

// Instrumented decorates a Backend with Prometheus metrics.
type Instrumented struct {
	next    Backend
	metrics *metrics.Metrics
}

// NewInstrumented wraps next. A nil m returns next unchanged.
func NewInstrumented(next Backend, m *metrics.Metrics) Backend {
	if m == nil {
		return next
	}
	return &Instrumented{next: next, metrics: m}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	if IsNotFound(err) {
		err = nil
	}
	i.metrics.RecordStorageOp(op, time.Since(start).Seconds(), err)
}

// Save implements Backend.
func (i *Instrumented) Save(ctx context.Context, key string, reader io.Reader) (int64, error) {
	start := time.Now()
	n, err := i.next.Save(ctx, key, reader)
	i.observe("save", start, err)
	if err == nil {
		i.metrics.BytesUploaded.Add(float64(n))
	}
	return n, err
}

// Load implements Backend.
func (i *Instrumented) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.next.Load(ctx, key)
	i.observe("load", start, err)
	if err != nil {
		return nil, err
	}
	return &countingReadCloser{ReadCloser: rc, counter: i.metrics}, nil
}

// Delete implements Backend.
func (i *Instrumented) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Delete(ctx, key)
	i.observe("delete", start, err)
	return ok, err
}

// Exists implements Backend.
func (i *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	return i.next.Exists(ctx, key)
}

// GetSize implements Backend.
func (i *Instrumented) GetSize(ctx context.Context, key string) (int64, bool, error) {
	return i.next.GetSize(ctx, key)
}

// Move implements Backend.
func (i *Instrumented) Move(ctx context.Context, tempKey, finalKey string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Move(ctx, tempKey, finalKey)
	i.observe("move", start, err)
	return ok, err
}

type countingReadCloser struct {
	io.ReadCloser
	counter *metrics.Metrics
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.counter.BytesDownloaded.Add(float64(n))
	}
	return n, err
}
