package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// storePinger is the interface the SQLite gateway satisfies so the store
// probe does not depend on the concrete type.
type storePinger interface {
	// Ping verifies the database connection.
	Ping(ctx context.Context) error
}

// StorePinger probes the SQLite document store. It satisfies the Pinger
// interface and is used by GET /api/ready.
type StorePinger struct {
	// store is the gateway whose connection is probed.
	store storePinger
}

// NewStorePinger constructs a StorePinger for the given store.
func NewStorePinger(store storePinger) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "sqlite" }

// Ping verifies the database connection is alive.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
