// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package notify delivers change notifications for generated resources. The
// router emits one notification per successful create, update and delete
// when a notifier is configured.
package notify

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/modelbind/core"
	"github.com/relabs-tech/modelbind/core/logger"
)

// Notification is one resource change event
type Notification struct {
	Resource  string         `json:"resource"`
	Operation core.Operation `json:"operation"`
	ID        string         `json:"id"`
	Payload   interface{}    `json:"payload,omitempty"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// KafkaNotifier writes notifications to a kafka topic, keyed by resource so
// changes to one resource stay ordered within a partition
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to topic on the given brokers
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Notify implements Notifier
func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Resource),
		Value: value,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4751: cannot deliver notification for %s %s", n.Resource, n.Operation)
	}
	return err
}

// Close flushes and closes the underlying writer
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
