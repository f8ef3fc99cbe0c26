package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/hub"
)

type pingStream struct {
	mu      sync.Mutex
	pings   int
	pingErr error
}

func (s *pingStream) WriteMessage([]byte) error { return nil }
func (s *pingStream) Close() error              { return nil }

func (s *pingStream) Ping(time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingErr != nil {
		return s.pingErr
	}
	s.pings++
	return nil
}

func (s *pingStream) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func TestSweepPingsLiveConnections(t *testing.T) {
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	supervisor := NewSupervisor(log, registry, time.Minute, 2)

	stream := &pingStream{}
	id := registry.Register(stream)

	supervisor.Sweep(context.Background())
	assert.Equal(t, 1, stream.pingCount())
	missed, ok := registry.MissedPongs(id)
	require.True(t, ok)
	assert.Equal(t, 1, missed)
}

func TestSweepRemovesAfterMissedPongs(t *testing.T) {
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	supervisor := NewSupervisor(log, registry, time.Minute, 2)

	id := registry.Register(&pingStream{})
	registry.Subscribe(id, "route:9")

	// two unanswered pings, then the third sweep removes
	supervisor.Sweep(context.Background())
	supervisor.Sweep(context.Background())
	assert.Equal(t, 1, registry.Len())

	supervisor.Sweep(context.Background())
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.Subscribers("route:9"))
}

func TestPongResetsLiveness(t *testing.T) {
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	supervisor := NewSupervisor(log, registry, time.Minute, 2)

	id := registry.Register(&pingStream{})

	supervisor.Sweep(context.Background())
	supervisor.Sweep(context.Background())
	registry.Touch(id) // pong arrived

	supervisor.Sweep(context.Background())
	assert.Equal(t, 1, registry.Len())
}

func TestSweepRemovesOnPingFailure(t *testing.T) {
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	supervisor := NewSupervisor(log, registry, time.Minute, 2)

	registry.Register(&pingStream{pingErr: errors.New("broken pipe")})

	supervisor.Sweep(context.Background())
	assert.Equal(t, 0, registry.Len())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	supervisor := NewSupervisor(log, registry, 10*time.Millisecond, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}
