// Package router fans new messages out to the other server instances over
// redis pub/sub, so sockets joined on any instance see every message.
package router

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
)

const channelName = "taskchat:messages"

type envelope struct {
	Origin  string         `json:"origin"`
	ChatID  domain.ChatID  `json:"chatId"`
	Message domain.Message `json:"message"`
}

type Router struct {
	client     *redis.Client
	instanceID string
}

func New(client *redis.Client, instanceID string) *Router {
	return &Router{client: client, instanceID: instanceID}
}

func (r *Router) Publish(ctx context.Context, chatID domain.ChatID, m domain.Message) error {
	payload, err := json.Marshal(envelope{Origin: r.instanceID, ChatID: chatID, Message: m})
	if err != nil {
		return err
	}
	observability.GetLogger(ctx).Debug("publishing message to peers", zap.String("chat_id", chatID.String()))
	return r.client.Publish(ctx, channelName, payload).Err()
}

// decode returns ok=false for malformed payloads and for messages this
// instance published itself.
func (r *Router) decode(payload []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, false
	}
	if env.Origin == r.instanceID || env.ChatID == "" || env.Message.ID == "" {
		return envelope{}, false
	}
	return env, true
}

// Subscribe delivers messages published by other instances until ctx is
// done.
func (r *Router) Subscribe(ctx context.Context, handler func(chatID domain.ChatID, m domain.Message)) {
	pubsub := r.client.Subscribe(ctx, channelName)

	go func() {
		log := observability.GetLogger(ctx)
		log.Info("router: subscribed to channel", zap.String("channel", channelName))
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info("router: subscription loop stopping: context canceled")
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn("router: pubsub channel closed")
					return
				}
				env, ok := r.decode([]byte(msg.Payload))
				if !ok {
					continue
				}
				handler(env.ChatID, env.Message)
			}
		}
	}()
}
