package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"ledger-auditor/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// EmailPublisher hands report emails to the mailer over RabbitMQ instead of
// the email_queue table.
type EmailPublisher struct {
	channel    Channel
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

func NewEmailPublisher(ch Channel, exchange, routingKey string, logger zerolog.Logger) *EmailPublisher {
	return &EmailPublisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

// DeclareExchange makes sure the topic exchange exists before the first publish.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

func (p *EmailPublisher) QueueEmail(ctx context.Context, n models.EmailNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	priority := uint8(0)
	if n.Priority == models.PriorityHigh {
		priority = 5
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Type:         n.TemplateKey,
			Priority:     priority,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish email: %w", err)
	}

	p.logger.Debug().
		Int64("recipient_id", n.RecipientID).
		Str("routing_key", p.routingKey).
		Msg("Email published")
	return nil
}
