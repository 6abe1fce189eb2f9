// Package realtime はトピック単位のライブ配信を提供する。
//
// Hub はプロセス内の購読者を管理し、RedisBridge を接続すると
// 複数インスタンス間でイベントを共有する。クライアントへの経路は
// WebSocket と Server-Sent Events の2種類。
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/pkg/event"
)

// topicPrefix は利用者ごとの通知トピックの接頭辞。
const topicPrefix = "notification::"

// subscriberBuffer は購読者ごとの送信バッファ。溢れた分は捨てる。
const subscriberBuffer = 16

// ErrHubClosed はClose後にPublishしたことを表す。
var ErrHubClosed = errors.New("realtime: hub closed")

// Topic は利用者の通知トピック名を返す。
func Topic(userID string) string {
	return topicPrefix + userID
}

type subscriber struct {
	mu     sync.RWMutex
	ch     chan event.Event
	closed bool
}

// send は受信側が詰まっていれば捨てる。配信できたかを返す。
func (s *subscriber) send(ev event.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub はトピックごとの購読者集合を保持する。
type Hub struct {
	mu sync.RWMutex
	// topics は topic -> 購読者集合。空になった集合は削除する。
	topics map[string]map[*subscriber]struct{}
	// draining が true の間は新しい購読を受け付けない。
	draining bool

	bridge atomic.Pointer[RedisBridge]
	closed atomic.Bool
	log    logrus.FieldLogger
}

// NewHub はHubを生成する。
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		topics: make(map[string]map[*subscriber]struct{}),
		log:    log.WithField("component", "realtime"),
	}
}

// Ready はPublishを受け付けられる状態かを返す。
func (h *Hub) Ready() bool {
	return h != nil && !h.closed.Load()
}

// Subscribe はトピックの購読を開始し、受信チャネルと購読解除関数を返す。
// 解除関数は複数回呼んでもよい。Drain後は閉じたチャネルを返す。
func (h *Hub) Subscribe(topic string) (<-chan event.Event, func()) {
	sub := &subscriber{ch: make(chan event.Event, subscriberBuffer)}

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.topics[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.remove(topic, sub)
			sub.close()
		})
	}
}

func (h *Hub) remove(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// topicCount は購読者のいるトピック数を返す。
func (h *Hub) topicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// SubscriberCount はトピックの購読者数を返す。
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish はイベントを配信する。ブリッジが接続されていればRedis経由、
// そうでなければプロセス内の購読者へ直接届ける。
// 購読者がいないトピックへの配信は成功扱いになる。
func (h *Hub) Publish(ctx context.Context, ev *event.Event) error {
	if !h.Ready() {
		return ErrHubClosed
	}
	if ev == nil || ev.Topic == "" {
		return errors.New("realtime: イベントまたはトピックが空です")
	}
	if b := h.bridge.Load(); b != nil {
		return b.Publish(ctx, ev)
	}
	h.deliver(ev)
	return nil
}

// deliver はローカルの購読者にイベントを届ける。
func (h *Hub) deliver(ev *event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[ev.Topic] {
		if !sub.send(*ev) {
			h.log.WithFields(logrus.Fields{
				"topic":    ev.Topic,
				"event_id": ev.ID,
			}).Warn("購読者の受信が詰まっているためイベントを破棄しました")
		}
	}
}

func (h *Hub) attach(b *RedisBridge) {
	h.bridge.Store(b)
}

func (h *Hub) detach(b *RedisBridge) {
	h.bridge.CompareAndSwap(b, nil)
}

// Drain は全ての購読を終了し、以後の購読を受け付けない。
// Publishは引き続き受け付けるため、処理中のリクエストの通知は失敗しない。
func (h *Hub) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = true
	for topic, set := range h.topics {
		for sub := range set {
			sub.close()
		}
		delete(h.topics, topic)
	}
}

// Close はDrainしたうえで、以後のPublishを拒否する。
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.Drain()
}
