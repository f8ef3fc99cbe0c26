package hub

import (
	"context"

	"transit-fleet/internal/general/logger"
)

// Router resolves a channel to its subscribers and fans a serialized
// envelope out to them. Delivery order within a channel follows the order
// publishes reach the router; there is no cross-channel ordering.
type Router struct {
	registry *Registry
	logger   *logger.Logger
}

func NewRouter(registry *Registry, log *logger.Logger) *Router {
	return &Router{registry: registry, logger: log}
}

// Publish delivers payload to every current subscriber of channel. A send
// failure for one subscriber removes that subscriber but never blocks
// delivery to the rest. Publishing to a channel nobody subscribed to is a
// silent no-op.
func (rt *Router) Publish(ctx context.Context, channel string, payload []byte) {
	ids := rt.registry.Subscribers(channel)
	if len(ids) == 0 {
		return
	}
	delivered := 0
	for _, id := range ids {
		if err := rt.registry.Send(id, payload); err != nil {
			continue // Send already removed the dead connection
		}
		delivered++
	}
	rt.logger.Debug(ctx, "channel_published", "Published envelope to channel",
		map[string]any{"channel": channel, "subscribers": len(ids), "delivered": delivered})
}

// BroadcastAll delivers payload to every registered connection regardless
// of subscriptions. Reserved for system-wide notices.
func (rt *Router) BroadcastAll(ctx context.Context, payload []byte) {
	ids := rt.registry.ConnIDs()
	for _, id := range ids {
		_ = rt.registry.Send(id, payload)
	}
	rt.logger.Debug(ctx, "broadcast_all", "Broadcast envelope to all connections",
		map[string]any{"connections": len(ids)})
}
