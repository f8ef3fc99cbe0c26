// Package ingest validates, persists, and fans out driver location
// reports. All rejections are recoverable: the sender gets an inline
// `error` envelope and the connection stays open.
package ingest

import (
	"context"
	"errors"
	"time"

	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/codec"
	"transit-fleet/internal/realtime/domain"
	"transit-fleet/internal/realtime/hub"
)

// Pipeline wires the storage collaborator, the channel router, and the
// optional broker bridge behind a single Ingest entry point.
type Pipeline struct {
	logger      *logger.Logger
	registry    *hub.Registry
	router      *hub.Router
	store       domain.LocationStore
	assignments domain.AssignmentDirectory
	bridge      domain.LocationPublisher // nil: no broker configured
	minInterval time.Duration            // 0: throttling disabled
}

func NewPipeline(
	log *logger.Logger,
	registry *hub.Registry,
	router *hub.Router,
	store domain.LocationStore,
	assignments domain.AssignmentDirectory,
	bridge domain.LocationPublisher,
	minInterval time.Duration,
) *Pipeline {
	return &Pipeline{
		logger:      log,
		registry:    registry,
		router:      router,
		store:       store,
		assignments: assignments,
		bridge:      bridge,
		minInterval: minInterval,
	}
}

// Ingest processes one location report from connID.
//
// lastReportAt is per-connection throttle state owned by the caller's read
// loop; reports arriving within the configured minimum interval of the
// last persisted one are dropped without an error reply.
//
// The returned error mirrors what was (or would have been) reported to the
// sender; callers use it for logging only.
func (p *Pipeline) Ingest(ctx context.Context, connID hub.ConnID, report codec.LocationReport, lastReportAt *time.Time) error {
	if p.minInterval > 0 && lastReportAt != nil {
		since := time.Since(*lastReportAt)
		if since < p.minInterval {
			p.logger.Debug(ctx, "location_report_throttled", "Location report throttled",
				map[string]any{"assignment_id": report.AssignmentID, "interval": since.String()})
			return nil
		}
	}

	identity, ok := p.registry.Identity(connID)
	if !ok {
		return p.reject(ctx, connID, "authentication required", domain.ErrNotAuthenticated)
	}
	if !identity.Role.IsDriver() {
		return p.reject(ctx, connID, "only drivers may report locations", domain.ErrNotDriver)
	}

	parsed := domain.LocationReport{
		AssignmentID: report.AssignmentID,
		Latitude:     deref(report.Latitude),
		Longitude:    deref(report.Longitude),
		Speed:        report.Speed,
		Heading:      report.Heading,
		Status:       report.Status,
	}
	if err := parsed.Validate(); err != nil {
		return p.reject(ctx, connID, "invalid location report", err)
	}

	assignment, err := p.assignments.GetAssignment(ctx, parsed.AssignmentID)
	if err != nil {
		if errors.Is(err, domain.ErrAssignmentNotFound) {
			return p.reject(ctx, connID, "unknown assignment", err)
		}
		p.logger.Error(ctx, "assignment_lookup_failed", "Assignment lookup failed", err,
			map[string]any{"assignment_id": parsed.AssignmentID, "connection_id": string(connID)})
		return p.reject(ctx, connID, "failed to resolve assignment", err)
	}
	if !assignment.Active() {
		return p.reject(ctx, connID, "assignment is not active", domain.ErrAssignmentInactive)
	}
	if assignment.DriverID != identity.UserID {
		return p.reject(ctx, connID, "assignment is not owned by this driver", domain.ErrAssignmentNotOwned)
	}

	// Persistence strictly precedes fanout; a failure here aborts fanout
	// and surfaces only to the sender.
	update, err := p.store.CreateLocationUpdate(ctx, parsed)
	if err != nil {
		p.logger.Error(ctx, "location_persist_failed", "Failed to persist location update", err,
			map[string]any{"assignment_id": parsed.AssignmentID, "connection_id": string(connID)})
		return p.reject(ctx, connID, "failed to save location", err)
	}

	// the throttle window opens from the last successful write, so a
	// rejected report never consumes the slot of the next valid one
	if p.minInterval > 0 && lastReportAt != nil {
		*lastReportAt = time.Now()
	}

	payload, err := codec.EncodeLocationEvent(codec.LocationEventData{
		ID:           update.ID,
		AssignmentID: update.AssignmentID,
		RouteID:      assignment.RouteID,
		Latitude:     update.Latitude,
		Longitude:    update.Longitude,
		Speed:        update.Speed,
		Heading:      update.Heading,
		Status:       update.Status,
		Timestamp:    update.Timestamp,
	})
	if err != nil {
		p.logger.Error(ctx, "location_event_encode_failed", "Failed to encode location event", err,
			map[string]any{"assignment_id": update.AssignmentID})
		return err
	}

	p.router.Publish(ctx, domain.AssignmentChannel(update.AssignmentID), payload)
	p.router.Publish(ctx, domain.RouteChannel(assignment.RouteID), payload)

	// Broker bridge is best-effort: the row is persisted and subscribers
	// already got the event.
	if p.bridge != nil {
		if err := p.bridge.PublishLocation(ctx, *update, assignment.RouteID, assignment.DriverID); err != nil {
			p.logger.Error(ctx, "location_bridge_failed", "Failed to publish location to broker", err,
				map[string]any{"assignment_id": update.AssignmentID, "route_id": assignment.RouteID})
		}
	}

	p.logger.Info(ctx, "location_ingested", "Location update persisted and fanned out",
		map[string]any{
			"update_id":     update.ID,
			"assignment_id": update.AssignmentID,
			"route_id":      assignment.RouteID,
			"status":        update.Status,
		})
	return nil
}

// reject sends a recoverable error envelope to the sender. No state is
// mutated and the connection stays open.
func (p *Pipeline) reject(ctx context.Context, connID hub.ConnID, message string, cause error) error {
	p.logger.Debug(ctx, "location_report_rejected", message,
		map[string]any{"connection_id": string(connID), "cause": cause.Error()})
	_ = p.registry.Send(connID, codec.EncodeError(message))
	return cause
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
