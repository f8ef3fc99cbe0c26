package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-fleet/internal/domain/user"
	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/codec"
	"transit-fleet/internal/realtime/domain"
	"transit-fleet/internal/realtime/hub"
)

type memStream struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *memStream) WriteMessage(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *memStream) Ping(time.Time) error { return nil }
func (s *memStream) Close() error         { return nil }

func (s *memStream) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *memStream) lastNotice(t *testing.T) codec.Notice {
	t.Helper()
	frames := s.sent()
	require.NotEmpty(t, frames)
	var notice codec.Notice
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &notice))
	return notice
}

type fakeStore struct {
	mu      sync.Mutex
	created []domain.LocationReport
	err     error
}

func (s *fakeStore) CreateLocationUpdate(_ context.Context, report domain.LocationReport) (*domain.LocationUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, report)
	return &domain.LocationUpdate{
		ID:           int64(100 + len(s.created)),
		AssignmentID: report.AssignmentID,
		Latitude:     report.Latitude,
		Longitude:    report.Longitude,
		Speed:        report.Speed,
		Heading:      report.Heading,
		Status:       report.Status,
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeAssignments struct {
	byID map[int64]*domain.Assignment
}

func (a *fakeAssignments) GetAssignment(_ context.Context, id int64) (*domain.Assignment, error) {
	if found, ok := a.byID[id]; ok {
		return found, nil
	}
	return nil, domain.ErrAssignmentNotFound
}

type fakeBridge struct {
	mu        sync.Mutex
	published []domain.LocationUpdate
	err       error
}

func (b *fakeBridge) PublishLocation(_ context.Context, update domain.LocationUpdate, routeID, driverID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, update)
	return nil
}

func (b *fakeBridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type fixture struct {
	registry *hub.Registry
	router   *hub.Router
	store    *fakeStore
	bridge   *fakeBridge
	pipeline *Pipeline

	driverStream *memStream
	driverID     hub.ConnID
}

func newFixture(t *testing.T, minInterval time.Duration) *fixture {
	t.Helper()
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	router := hub.NewRouter(registry, log)
	store := &fakeStore{}
	bridge := &fakeBridge{}
	assignments := &fakeAssignments{byID: map[int64]*domain.Assignment{
		42: {ID: 42, DriverID: 7, RouteID: 9, Status: domain.AssignmentStatusInProgress},
		43: {ID: 43, DriverID: 8, RouteID: 9, Status: domain.AssignmentStatusInProgress},
		44: {ID: 44, DriverID: 7, RouteID: 9, Status: domain.AssignmentStatusCompleted},
	}}

	f := &fixture{
		registry:     registry,
		router:       router,
		store:        store,
		bridge:       bridge,
		pipeline:     NewPipeline(log, registry, router, store, assignments, bridge, minInterval),
		driverStream: &memStream{},
	}
	f.driverID = registry.Register(f.driverStream)
	registry.Authenticate(f.driverID, domain.Identity{UserID: 7, Role: user.RoleDriver})
	return f
}

func (f *fixture) subscriber(channel string) *memStream {
	stream := &memStream{}
	id := f.registry.Register(stream)
	f.registry.Subscribe(id, channel)
	return stream
}

func validReport() codec.LocationReport {
	lat, lng := 25.76, -80.19
	return codec.LocationReport{
		AssignmentID: 42,
		Latitude:     &lat,
		Longitude:    &lng,
		Status:       codec.StatusOnTime,
	}
}

func TestIngestHappyPath(t *testing.T) {
	f := newFixture(t, 0)
	routeSub := f.subscriber("route:9")
	assignSub := f.subscriber("assignment:42")
	otherSub := f.subscriber("route:10")

	err := f.pipeline.Ingest(context.Background(), f.driverID, validReport(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.bridge.count())

	for _, stream := range []*memStream{routeSub, assignSub} {
		frames := stream.sent()
		require.Len(t, frames, 1)
		var event codec.LocationEvent
		require.NoError(t, json.Unmarshal(frames[0], &event))
		assert.Equal(t, codec.TypeLocationUpdate, event.Type)
		assert.Equal(t, int64(42), event.Data.AssignmentID)
		assert.Equal(t, int64(9), event.Data.RouteID)
		assert.Equal(t, 25.76, event.Data.Latitude)
		assert.Equal(t, -80.19, event.Data.Longitude)
		assert.Equal(t, codec.StatusOnTime, event.Data.Status)
		assert.NotZero(t, event.Data.ID)
	}
	assert.Empty(t, otherSub.sent())
	// the reporter is not a subscriber and gets no echo
	assert.Empty(t, f.driverStream.sent())
}

func TestIngestRequiresAuthentication(t *testing.T) {
	f := newFixture(t, 0)
	stream := &memStream{}
	anon := f.registry.Register(stream)
	routeSub := f.subscriber("route:9")

	err := f.pipeline.Ingest(context.Background(), anon, validReport(), nil)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	notice := stream.lastNotice(t)
	assert.Equal(t, codec.TypeError, notice.Type)
	assert.Equal(t, "authentication required", notice.Message)
	assert.Zero(t, f.store.count())
	assert.Empty(t, routeSub.sent())
}

func TestIngestRequiresDriverRole(t *testing.T) {
	f := newFixture(t, 0)
	stream := &memStream{}
	rider := f.registry.Register(stream)
	f.registry.Authenticate(rider, domain.Identity{UserID: 3, Role: user.RoleUser})

	err := f.pipeline.Ingest(context.Background(), rider, validReport(), nil)
	assert.ErrorIs(t, err, domain.ErrNotDriver)
	assert.Equal(t, "only drivers may report locations", stream.lastNotice(t).Message)
	assert.Zero(t, f.store.count())
}

func TestIngestRejectsInvalidCoordinates(t *testing.T) {
	f := newFixture(t, 0)

	report := validReport()
	badLat := 91.0
	report.Latitude = &badLat

	err := f.pipeline.Ingest(context.Background(), f.driverID, report, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
	assert.Equal(t, "invalid location report", f.driverStream.lastNotice(t).Message)
	assert.Zero(t, f.store.count())
}

func TestIngestRejectsUnknownAssignment(t *testing.T) {
	f := newFixture(t, 0)

	report := validReport()
	report.AssignmentID = 999

	err := f.pipeline.Ingest(context.Background(), f.driverID, report, nil)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
	assert.Equal(t, "unknown assignment", f.driverStream.lastNotice(t).Message)
	assert.Zero(t, f.store.count())
}

func TestIngestRejectsInactiveAssignment(t *testing.T) {
	f := newFixture(t, 0)

	report := validReport()
	report.AssignmentID = 44 // completed

	err := f.pipeline.Ingest(context.Background(), f.driverID, report, nil)
	assert.ErrorIs(t, err, domain.ErrAssignmentInactive)
	assert.Equal(t, "assignment is not active", f.driverStream.lastNotice(t).Message)
	assert.Zero(t, f.store.count())
}

func TestIngestRejectsUnownedAssignment(t *testing.T) {
	f := newFixture(t, 0)

	report := validReport()
	report.AssignmentID = 43 // owned by driver 8

	err := f.pipeline.Ingest(context.Background(), f.driverID, report, nil)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotOwned)
	assert.Equal(t, "assignment is not owned by this driver", f.driverStream.lastNotice(t).Message)
	assert.Zero(t, f.store.count())
}

func TestIngestPersistenceFailureAbortsFanout(t *testing.T) {
	f := newFixture(t, 0)
	routeSub := f.subscriber("route:9")
	f.store.err = errors.New("db down")

	err := f.pipeline.Ingest(context.Background(), f.driverID, validReport(), nil)
	require.Error(t, err)

	assert.Equal(t, "failed to save location", f.driverStream.lastNotice(t).Message)
	assert.Empty(t, routeSub.sent())
	assert.Zero(t, f.bridge.count())
}

func TestIngestBridgeFailureIsBestEffort(t *testing.T) {
	f := newFixture(t, 0)
	routeSub := f.subscriber("route:9")
	f.bridge.err = errors.New("broker down")

	err := f.pipeline.Ingest(context.Background(), f.driverID, validReport(), nil)
	require.NoError(t, err)

	// persisted and fanned out despite the broker being down
	assert.Equal(t, 1, f.store.count())
	assert.Len(t, routeSub.sent(), 1)
}

func TestIngestWithoutBridge(t *testing.T) {
	log := logger.New("test")
	registry := hub.NewRegistry(log)
	router := hub.NewRouter(registry, log)
	store := &fakeStore{}
	assignments := &fakeAssignments{byID: map[int64]*domain.Assignment{
		42: {ID: 42, DriverID: 7, RouteID: 9, Status: domain.AssignmentStatusInProgress},
	}}
	pipeline := NewPipeline(log, registry, router, store, assignments, nil, 0)

	stream := &memStream{}
	id := registry.Register(stream)
	registry.Authenticate(id, domain.Identity{UserID: 7, Role: user.RoleDriver})

	require.NoError(t, pipeline.Ingest(context.Background(), id, validReport(), nil))
	assert.Equal(t, 1, store.count())
}

func TestIngestThrottlesRapidReports(t *testing.T) {
	f := newFixture(t, time.Hour)

	var lastReportAt time.Time
	require.NoError(t, f.pipeline.Ingest(context.Background(), f.driverID, validReport(), &lastReportAt))
	assert.Equal(t, 1, f.store.count())

	// second report inside the window is silently dropped
	require.NoError(t, f.pipeline.Ingest(context.Background(), f.driverID, validReport(), &lastReportAt))
	assert.Equal(t, 1, f.store.count())
	assert.Empty(t, f.driverStream.sent())

	// an aged marker lets the next report through
	lastReportAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.pipeline.Ingest(context.Background(), f.driverID, validReport(), &lastReportAt))
	assert.Equal(t, 2, f.store.count())
}

func TestRejectedReportDoesNotConsumeThrottleSlot(t *testing.T) {
	f := newFixture(t, time.Hour)

	var lastReportAt time.Time

	// a rejected report leaves the throttle window untouched
	unknown := validReport()
	unknown.AssignmentID = 999
	err := f.pipeline.Ingest(context.Background(), f.driverID, unknown, &lastReportAt)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
	assert.True(t, lastReportAt.IsZero())

	// so the immediately following valid report still persists
	require.NoError(t, f.pipeline.Ingest(context.Background(), f.driverID, validReport(), &lastReportAt))
	assert.Equal(t, 1, f.store.count())
	assert.False(t, lastReportAt.IsZero())

	// persistence failures do not open the window either
	f.store.err = errors.New("db down")
	lastReportAt = time.Now().Add(-2 * time.Hour)
	before := lastReportAt
	require.Error(t, f.pipeline.Ingest(context.Background(), f.driverID, validReport(), &lastReportAt))
	assert.Equal(t, before, lastReportAt)
}
