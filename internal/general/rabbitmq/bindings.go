package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"transit-fleet/internal/general/contracts"
)

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(contracts.ExchangeLocationFanout, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", contracts.ExchangeLocationFanout, err)
	}

	if _, err := ch.QueueDeclare(contracts.QueueLocationHistory, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", contracts.QueueLocationHistory, err)
	}

	if err := ch.QueueBind(contracts.QueueLocationHistory, "", contracts.ExchangeLocationFanout, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", contracts.QueueLocationHistory, contracts.ExchangeLocationFanout, err)
	}

	return nil
}
