package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"transit-fleet/internal/general/contracts"
	"transit-fleet/internal/realtime/domain"
)

// MQPublisher publishes realtime events through the Client. It implements
// the ingest pipeline's LocationPublisher port.
type MQPublisher struct {
	Client   *Client
	Producer string // stamped into the message envelope
}

// NewMQPublisher constructs an MQPublisher using the provided RabbitMQ client.
func NewMQPublisher(client *Client, producer string) *MQPublisher {
	return &MQPublisher{Client: client, Producer: producer}
}

var _ domain.LocationPublisher = (*MQPublisher)(nil)

// PublishLocation fans an accepted location update out to broker
// consumers.
func (publisher *MQPublisher) PublishLocation(ctx context.Context, update domain.LocationUpdate, routeID, driverID int64) error {
	msg := contracts.LocationBroadcast{
		UpdateID:     update.ID,
		AssignmentID: update.AssignmentID,
		RouteID:      routeID,
		DriverID:     driverID,
		Location: contracts.GeoPoint{
			Lat: update.Latitude,
			Lng: update.Longitude,
		},
		SpeedKMH:       update.Speed,
		HeadingDegrees: update.Heading,
		Status:         update.Status,
		Timestamp:      update.Timestamp,
		Envelope: contracts.Envelope{
			CorrelationID: uuid.NewString(),
			Producer:      publisher.Producer,
			SentAt:        time.Now().UTC(),
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal location broadcast: %w", err)
	}

	return publisher.Client.PublishMessage(ctx, contracts.ExchangeLocationFanout, "", body)
}

// PublishMessage publishes a persistent JSON message and waits for the
// broker's confirm.
func (client *Client) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	// quick fail if no channel
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(pubCtx, exchange, routingKey, true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c := <-confirms:
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
	case <-pubCtx.Done():
		// keep the confirm stream aligned: try to consume exactly one
		// confirm even if we return a timeout to the caller
		select {
		case c := <-confirms:
			if !c.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(2 * time.Second):
			// give up trying to read from the confirms channel
		}

		return pubCtx.Err()
	}

	return nil
}
