package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/pkg/event"
)

// RedisBridge はHubをRedis Pub/Subのチャネルに接続する。
// どのインスタンスでPublishしたイベントも、全インスタンスのHubに再配信される。
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     logrus.FieldLogger
}

// NewRedisBridge はブリッジを生成する。Runを呼ぶまでHubには接続されない。
func NewRedisBridge(client *redis.Client, channel string, hub *Hub) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     hub.log.WithField("redis_channel", channel),
	}
}

// Publish はイベントを共有チャネルに送る。
func (b *RedisBridge) Publish(ctx context.Context, ev *event.Event) error {
	body, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("Redisへの配信に失敗: %w", err)
	}
	return nil
}

// Run は共有チャネルを購読し、受信したイベントをローカルの購読者へ流す。
// 購読が確立してからHubに接続し、ctxが終了すると切り離して戻る。
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("Redisチャネルの購読に失敗: %w", err)
	}

	b.hub.attach(b)
	defer b.hub.detach(b)
	b.log.Info("Redisブリッジを開始しました")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Redisブリッジを停止しました")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("Redisチャネル %s が閉じられました", b.channel)
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisBridge) handleMessage(payload string) {
	ev, err := event.Unmarshal([]byte(payload))
	if err != nil {
		b.log.WithError(err).Warn("Redisメッセージを解釈できません")
		return
	}
	b.hub.deliver(ev)
}
