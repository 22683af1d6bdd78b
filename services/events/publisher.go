package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
)

const (
	EventTypeDocumentIngested = "DocumentIngested"

	defaultPublishTimeout      = 5 * time.Second
	defaultMaxRetries          = 3
	defaultReconnectBackoff    = time.Second
	defaultMaxReconnectBackoff = 30 * time.Second
)

// envelope wraps the payload with the metadata consumers route on
type envelope struct {
	ID        string      `json:"id"`
	EventType string      `json:"eventType"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RabbitMQPublisher publishes ingestion events on a fanout exchange with
// publisher confirms. It reconnects on its own; callers only see errors
// when a publish fails after all retries.
type RabbitMQPublisher struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex
	confirms        chan amqp091.Confirmation
	url             string
	exchange        string
	logger          logger.Logger
	closed          chan struct{}
}

func NewRabbitMQPublisher(rabbitmqURL, exchange string, logger logger.Logger) (*RabbitMQPublisher, error) {
	publisher := &RabbitMQPublisher{
		url:      rabbitmqURL,
		exchange: exchange,
		logger:   logger,
		closed:   make(chan struct{}),
	}
	if err := publisher.connect(); err != nil {
		return nil, err
	}
	return publisher, nil
}

func (r *RabbitMQPublisher) PublishDocumentIngested(ctx context.Context, event interfaces.DocumentIngestedEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.PublishDocumentIngested")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "event", event)

	message := envelope{
		ID:        utils.GenerateNanoIDWithPrefix("event", 21),
		EventType: EventTypeDocumentIngested,
		Timestamp: utils.Now().Format(time.RFC3339),
		Data:      event,
	}

	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		err := r.publishWithConfirm(ctx, message)
		if err == nil {
			return nil
		}
		r.logger.Warnf("Publish attempt %d failed: %v", attempt+1, err)
		if attempt < defaultMaxRetries-1 {
			time.Sleep(time.Millisecond * 100 * time.Duration(attempt+1))
		}
	}
	return errors.New("failed to publish message after all retries")
}

func (r *RabbitMQPublisher) publishWithConfirm(ctx context.Context, message interface{}) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.ensureConnectionAndChannel(); err != nil {
		return err
	}

	jsonBody, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	err = r.publishChannel.Publish(
		r.exchange,
		"",    // fanout ignores routing keys
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         jsonBody,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return errors.Wrap(err, "failed to publish message")
	}

	select {
	case confirm := <-r.confirms:
		if !confirm.Ack {
			return errors.New("message was not confirmed by server")
		}
	case <-time.After(defaultPublishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *RabbitMQPublisher) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	r.connection, err = amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open setup channel")
	}
	err = channel.ExchangeDeclare(
		r.exchange,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	channel.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to declare exchange %s", r.exchange)
	}

	if err := r.setupPublishChannel(); err != nil {
		return err
	}

	go r.handleReconnection()
	return nil
}

func (r *RabbitMQPublisher) setupPublishChannel() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open publish channel")
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "failed to enable publisher confirms")
	}
	r.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	r.publishChannel = channel
	return nil
}

func (r *RabbitMQPublisher) ensureConnectionAndChannel() error {
	if r.connection == nil || r.connection.IsClosed() {
		if err := r.connect(); err != nil {
			return errors.Wrap(err, "failed to establish connection")
		}
	}
	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		if err := r.setupPublishChannel(); err != nil {
			return errors.Wrap(err, "failed to establish channel")
		}
	}
	return nil
}

func (r *RabbitMQPublisher) handleReconnection() {
	backoff := defaultReconnectBackoff

	for {
		notifyClose := r.connection.NotifyClose(make(chan *amqp091.Error))
		select {
		case <-r.closed:
			return
		case err := <-notifyClose:
			if err == nil {
				return
			}
			r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", err)
		}

		for {
			err := r.connect()
			if err == nil {
				r.logger.Info("Successfully reconnected to RabbitMQ")
				break
			}
			r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)

			select {
			case <-r.closed:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > defaultMaxReconnectBackoff {
				backoff = defaultMaxReconnectBackoff
			}
		}
		backoff = defaultReconnectBackoff
	}
}

func (r *RabbitMQPublisher) Close() error {
	close(r.closed)

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.publishChannel != nil && !r.publishChannel.IsClosed() {
		r.publishChannel.Close()
	}
	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}

// noopPublisher swallows events when no broker is configured
type noopPublisher struct {
	logger logger.Logger
}

func NewNoopPublisher(logger logger.Logger) interfaces.EventPublisher {
	return &noopPublisher{logger: logger}
}

func (n *noopPublisher) PublishDocumentIngested(ctx context.Context, event interfaces.DocumentIngestedEvent) error {
	n.logger.Debugf("No event broker configured, dropping DocumentIngested for %s", event.StoredDocumentID)
	return nil
}

func (n *noopPublisher) Close() error {
	return nil
}
