package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/response"
)

const (
	defaultHeartbeat = 25 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	readLimit        = 4 * 1024
)

// TopicFunc はリクエストから購読するトピックを決める。
// 認証済みの利用者自身のトピック以外を返してはならない。
type TopicFunc func(c *gin.Context) (string, error)

// Transport はHubの購読をWebSocketとSSEで公開する。
type Transport struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// NewTransport はTransportを生成する。allowedOrigins に "*" を含めると全オリジンを許可する。
func NewTransport(hub *Hub, allowedOrigins []string) *Transport {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	_, allowAll := origins["*"]

	return &Transport{
		hub:       hub,
		heartbeat: defaultHeartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// SetHeartbeat はキープアライブの間隔を変更する。
func (t *Transport) SetHeartbeat(d time.Duration) {
	t.heartbeat = d
}

// WebSocket はトピックの購読をWebSocketで配信するハンドラを返す。
// イベントは1メッセージにつき1つのJSONとして送る。
func (t *Transport) WebSocket(topicFn TopicFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		topic, err := topicFn(c)
		if err != nil {
			response.Failed(c, err)
			return
		}
		if !t.hub.Ready() {
			response.Failed(c, errno.ErrChannelNotReady)
			return
		}

		conn, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrader がエラーレスポンスを書き込み済み
			t.hub.log.WithError(err).Warn("WebSocketへの切り替えに失敗")
			return
		}
		defer func() { _ = conn.Close() }()

		events, unsubscribe := t.hub.Subscribe(topic)
		defer unsubscribe()

		log := t.hub.log.WithFields(logrus.Fields{"topic": topic, "transport": "websocket"})
		log.Debug("接続しました")

		done := make(chan struct{})
		go readLoop(conn, done)

		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				log.Debug("切断されました")
				return
			case ev, ok := <-events:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					log.WithError(err).Debug("送信に失敗")
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

// readLoop はクライアントからのフレームを読み捨て、切断を検出したらdoneを閉じる。
func readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SSE はトピックの購読をServer-Sent Eventsで配信するハンドラを返す。
func (t *Transport) SSE(topicFn TopicFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		topic, err := topicFn(c)
		if err != nil {
			response.Failed(c, err)
			return
		}
		if !t.hub.Ready() {
			response.Failed(c, errno.ErrChannelNotReady)
			return
		}

		w := c.Writer
		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Failed(c, errno.New(errno.ErrInternal, "ストリーミングに対応していません"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		events, unsubscribe := t.hub.Subscribe(topic)
		defer unsubscribe()

		if _, err := w.Write([]byte(": ok\n\n")); err != nil {
			return
		}
		flusher.Flush()

		heartbeat := time.NewTicker(t.heartbeat)
		defer heartbeat.Stop()

		notify := c.Request.Context().Done()
		for {
			select {
			case <-notify:
				return
			case <-heartbeat.C:
				if _, err := w.Write([]byte(": ping\n\n")); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := sse.Encode(w, sse.Event{Id: ev.ID, Event: string(ev.Type), Data: string(data)}); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
