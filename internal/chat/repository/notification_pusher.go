package repository

import (
	"context"
	"encoding/json"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/database"

	"github.com/streadway/amqp"
)

// RabbitPusher queue created notifications for offline delivery (mobile push, mail)
type RabbitPusher struct {
	rabbit database.RabbitRepo
	queue  string
}

// NewRabbitPusher create RabbitPusher
func NewRabbitPusher(rabbit database.RabbitRepo, queue string) *RabbitPusher {
	return &RabbitPusher{rabbit: rabbit, queue: queue}
}

// Push 發送到預設 exchange 的 queue
func (p *RabbitPusher) Push(_ context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.rabbit.Publish(
		"",      // 預設 exchange
		p.queue, // queue 名稱
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    n.ID,
			Body:         data,
		},
	)
}

// ChannelPusher live push to the recipient's open notification sockets
type ChannelPusher struct {
	channel NotificationChannel
}

// NewChannelPusher create ChannelPusher
func NewChannelPusher(channel NotificationChannel) *ChannelPusher {
	return &ChannelPusher{channel: channel}
}

// Push publish on the recipient's user channel
func (p *ChannelPusher) Push(ctx context.Context, n domain.Notification) error {
	return p.channel.PublishNotification(ctx, n.RecipientID, n)
}
