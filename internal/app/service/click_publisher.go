package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shorturl/internal/app/model"
)

// ClickNotifier is told about clicks after they have been stored.
type ClickNotifier interface {
	NotifyClick(ctx context.Context, n model.ClickNotification) error
}

// ClickPublisher publishes click notifications to NATS JetStream.
type ClickPublisher struct {
	js nats.JetStreamContext
}

// NewClickPublisher creates a new click notification publisher.
func NewClickPublisher(js nats.JetStreamContext) *ClickPublisher {
	return &ClickPublisher{js: js}
}

// EnsureStream creates the click stream if it does not exist yet.
func (p *ClickPublisher) EnsureStream() error {
	_, err := p.js.StreamInfo(model.ClickStreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     model.ClickStreamName,
		Subjects: []string{model.ClickStreamSubject},
		MaxBytes: model.ClickStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// NotifyClick publishes n to the click stream. The message id is derived
// from the event id, so JetStream drops duplicates of a retried publish.
func (p *ClickPublisher) NotifyClick(ctx context.Context, n model.ClickNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(model.ClickStreamSubject, data,
		nats.Context(ctx),
		nats.MsgId(fmt.Sprintf("click-%d-%d", n.LinkID, n.EventID)),
	)
	return err
}
