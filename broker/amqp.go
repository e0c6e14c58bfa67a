package broker

import (
	"context"
	"encoding/json"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Producer = &AMQPBroker{}

const (
	stateChangeExchange string = "billing_events"
)

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupStateChangeExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for state changes")
	}

	return broker, nil
}

func (a *AMQPBroker) setupStateChangeExchange() error {
	return a.channel.ExchangeDeclare(
		stateChangeExchange, // name
		"fanout",            // type
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
}

// PublishStateChange broadcasts a StateChange to all bound consumers
func (a *AMQPBroker) PublishStateChange(ctx context.Context, change *StateChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return extErrors.Wrap(err, "Cannot marshal state change")
	}
	return a.channel.Publish(
		stateChangeExchange, // exchange
		"",                  // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}
