package database

import (
	"context"
	"fmt"
	"time"

	"realtime_chat_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// waitForKafka 確認 broker 可連線
func waitForKafka(k KafkaConnection) error {
	var err error
	for attempt := 1; attempt <= max(k.RetryCount, 1); attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var conn *kafka.Conn
		conn, err = kafka.DialContext(ctx, "tcp", k.Brokers[0])
		cancel()
		if err == nil {
			conn.Close()
			logger.Log.Info("Kafka 連線成功", zap.Int("attempt", attempt))
			return nil
		}

		logger.Log.Warn("Kafka 連線失敗",
			zap.Int("attempt", attempt),
			zap.Int("retry_count", k.RetryCount),
			zap.Error(err))
		time.Sleep(k.RetryInterval)
	}
	return fmt.Errorf("無法連線 Kafka，經過 %d 次嘗試: %w", k.RetryCount, err)
}

// NewKafkaWriterWithRetry 建立 Kafka Writer，key 相同的訊息進同一個 partition
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	if len(k.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if err := waitForKafka(k); err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.Brokers...),
		Topic:                  k.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaReader 建立 consumer group reader, offsets committed by the caller
func NewKafkaReader(k KafkaConnection) (*kafka.Reader, error) {
	if len(k.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if err := waitForKafka(k); err != nil {
		return nil, err
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.Brokers,
		Topic:       k.Topic,
		GroupID:     k.GroupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	}), nil
}
