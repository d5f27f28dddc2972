package server

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var (
	_ Pinger = (*StorePinger)(nil)
	_ Pinger = (*QdrantPinger)(nil)
)

// fakeStorePinger is a test double for the store probe.
type fakeStorePinger struct {
	err error
}

func (f *fakeStorePinger) Ping(_ context.Context) error { return f.err }

func TestStorePinger(t *testing.T) {
	t.Parallel()

	p := NewStorePinger(&fakeStorePinger{})
	if p.Name() != "sqlite" {
		t.Fatalf("name = %q, want sqlite", p.Name())
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	p = NewStorePinger(&fakeStorePinger{err: errors.New("locked")})
	err := p.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("Ping error = %v, want wrapped cause", err)
	}
}

func TestQdrantPingerName(t *testing.T) {
	t.Parallel()

	if got := NewQdrantPinger(nil).Name(); got != "qdrant" {
		t.Fatalf("name = %q, want qdrant", got)
	}
}
