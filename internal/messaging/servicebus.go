package messaging

import (
	"context"
	"encoding/json"
	"time"

	"example.com/eventhub/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TicketConfirmation is the message published once per completed
// payment. Downstream delivery (email, push) consumes it off the
// queue; losing a message never rolls back the payment.
type TicketConfirmation struct {
	TicketID     string `json:"ticket_id"`
	TicketNumber string `json:"ticket_number"`
	EventID      string `json:"event_id"`
	EventTitle   string `json:"event_title"`
	UserID       string `json:"user_id"`
	UserEmail    string `json:"user_email"`
	Reference    string `json:"reference"`
}

// Dispatcher publishes ticket confirmations.
type Dispatcher interface {
	NotifyTicketConfirmed(ctx context.Context, confirmation *TicketConfirmation) error
	Close() error
}

// serviceBusDispatcher implements Dispatcher over Azure Service Bus
type serviceBusDispatcher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	enabled   bool
}

// NewDispatcher creates a new Service Bus dispatcher. With no
// connection string configured it degrades to a disabled no-op, the
// same way the cache does.
func NewDispatcher(cfg config.ServiceBusConfig) (Dispatcher, error) {
	if cfg.ConnectionString == "" {
		log.Warn().Msg("Service Bus connection string not provided, confirmation dispatch will be disabled")
		return &serviceBusDispatcher{enabled: false}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusDispatcher{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		enabled:   true,
	}, nil
}

// NotifyTicketConfirmed sends a confirmation message to the queue
func (d *serviceBusDispatcher) NotifyTicketConfirmed(ctx context.Context, confirmation *TicketConfirmation) error {
	if !d.enabled {
		log.Debug().Str("ticket_id", confirmation.TicketID).Msg("Confirmation dispatch disabled, skipping")
		return nil
	}

	data, err := json.Marshal(confirmation)
	if err != nil {
		return errors.Wrap(err, "failed to marshal confirmation message")
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"type": "ticket.confirmed",
			"time": time.Now().UTC().Format(time.RFC3339),
		},
	}

	return d.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (d *serviceBusDispatcher) Close() error {
	if !d.enabled {
		return nil
	}
	if d.sender != nil {
		if err := d.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	return d.client.Close(context.Background())
}

// Processor consumes confirmation messages off the queue in the worker
type Processor struct {
	client    *azservicebus.Client
	queueName string
}

// NewProcessor creates a new Service Bus processor
func NewProcessor(cfg config.ServiceBusConfig) (*Processor, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &Processor{
		client:    client,
		queueName: cfg.QueueName,
	}, nil
}

// ProcessMessages receives messages until the context is cancelled and
// hands each to the handler. Handler errors abandon the message so the
// queue redelivers it; successes complete it.
func (p *Processor) ProcessMessages(ctx context.Context, handler func(ctx context.Context, message *azservicebus.ReceivedMessage) error) error {
	receiver, err := p.client.NewReceiverForQueue(p.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer receiver.Close(context.Background())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive messages")
		}

		for _, message := range messages {
			if err := handler(ctx, message); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to process message")
				if abandonErr := receiver.AbandonMessage(ctx, message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Str("message_id", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}
			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}
