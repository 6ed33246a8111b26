package repository

import (
	"context"
	"encoding/json"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter subset of *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader subset of *kafka.Reader
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaJournal EventBus that appends every event to a kafka topic before fan-out.
// Keyed by room id so a partition keeps room order.
type KafkaJournal struct {
	EventBus
	writer MessageWriter
}

// NewKafkaJournal wrap bus with a kafka writer
func NewKafkaJournal(bus EventBus, writer MessageWriter) *KafkaJournal {
	return &KafkaJournal{EventBus: bus, writer: writer}
}

// Publish journal first, then live fan-out
func (j *KafkaJournal) Publish(ctx context.Context, roomID string, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(roomID),
		Value: data,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		return err
	}
	return j.EventBus.Publish(ctx, roomID, ev)
}

// Close close the writer
func (j *KafkaJournal) Close() error {
	return j.writer.Close()
}

// KafkaEventSource consumer group over the journal topic; an offset is committed
// only after the handler succeeds, so a crash replays instead of losing events.
type KafkaEventSource struct {
	reader     MessageReader
	retryDelay time.Duration
}

// NewKafkaEventSource create KafkaEventSource
func NewKafkaEventSource(reader MessageReader, retryDelay time.Duration) *KafkaEventSource {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &KafkaEventSource{reader: reader, retryDelay: retryDelay}
}

// Consume block until ctx done
func (s *KafkaEventSource) Consume(ctx context.Context, handle func(context.Context, domain.Event) error) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var ev domain.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			// poison message, skip it
			logger.Log.Error("journal.decode", zap.Int64("offset", m.Offset), zap.Error(err))
		} else {
			for {
				err := handle(ctx, ev)
				if err == nil {
					break
				}
				logger.Log.Warn("journal.handle.retry",
					zap.String("event_id", ev.ID),
					zap.String("room_id", ev.RoomID),
					zap.Error(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.retryDelay):
				}
			}
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Close close the reader
func (s *KafkaEventSource) Close() error {
	return s.reader.Close()
}

// BusEventSource EventSource over EventBus.SubscribeAll, used when no journal is configured.
// Events published while nothing is subscribed are not replayed.
type BusEventSource struct {
	bus EventBus
}

// NewBusEventSource create BusEventSource
func NewBusEventSource(bus EventBus) *BusEventSource {
	return &BusEventSource{bus: bus}
}

// Consume block until ctx done or the subscription ends
func (s *BusEventSource) Consume(ctx context.Context, handle func(context.Context, domain.Event) error) error {
	sub, err := s.bus.SubscribeAll(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := handle(ctx, ev); err != nil {
				logger.Log.Error("bus.handle", zap.String("event_id", ev.ID), zap.Error(err))
			}
		}
	}
}
