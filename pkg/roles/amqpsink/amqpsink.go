// Package amqpsink publishes role assignment events to an AMQP 0-9-1 exchange.
package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/beeper/helper-bot/pkg/roles"
)

const EventTypeAssigned = "roles.assigned.v1"

// Config selects the broker and routing of published events.
type Config struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Producer   string `yaml:"producer"`
}

// Meta follows the envelope metadata convention used by the consumers.
type Meta struct {
	ID       string    `json:"id"`
	Producer *string   `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// AssignedData is the payload of EventTypeAssigned.
type AssignedData struct {
	AssignmentID string `json:"assignment_id"`
	RoomID       string `json:"room_id"`
	Person       string `json:"person"`
	Role         string `json:"role"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements roles.Publisher on a single AMQP channel.
type Publisher struct {
	cfg  Config
	conn *amqp.Connection

	mu sync.Mutex
	ch channel
}

var _ roles.Publisher = (*Publisher)(nil)

// Dial connects to the broker and declares the exchange as a durable topic exchange.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err = ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return &Publisher{cfg: cfg, conn: conn, ch: ch}, nil
}

func newPublisher(cfg Config, ch channel) *Publisher {
	return &Publisher{cfg: cfg, ch: ch}
}

func (p *Publisher) routingKey() string {
	if p.cfg.RoutingKey != "" {
		return p.cfg.RoutingKey
	}
	return EventTypeAssigned
}

func (p *Publisher) PublishAssigned(ctx context.Context, evt roles.AssignedEvent) error {
	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Time: evt.Time,
			Type: EventTypeAssigned,
		},
		Data: AssignedData{
			AssignmentID: evt.Assignment.ID,
			RoomID:       evt.RoomID.String(),
			Person:       evt.Assignment.Person.Name,
			Role:         evt.Assignment.Role.Name,
		},
	}
	if p.cfg.Producer != "" {
		env.Meta.Producer = &p.cfg.Producer
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.cfg.Exchange, p.routingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Meta.ID,
		Type:         env.Meta.Type,
		Timestamp:    env.Meta.Time,
		AppId:        p.cfg.Producer,
	})
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
