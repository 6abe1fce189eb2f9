package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout はリクエスト全体のデフォルトのタイムアウト。
const DefaultTimeout = 30 * time.Second

// Client はpmoji API用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先のベースURL（例: "http://localhost:8080"）。
	baseURL string
	// token はAuthorizationヘッダーに付けるJWT。空なら付けない。
	token string
}

// New は新しいクライアントを生成する。timeoutが0以下ならDefaultTimeoutを使う。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// WithToken はJWTを付けて送信するクライアントのコピーを返す。
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// APIError はAPIが失敗レスポンスを返したことを表す。
type APIError struct {
	// Status はHTTPステータスコード。
	Status int
	// Message はレスポンスのmessage。エンベロープでない場合は本文の先頭。
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("APIエラー: status=%d, message=%s", e.Status, e.Message)
}

// envelope はAPIの共通レスポンス構造。
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call はエンベロープ形式のAPIを呼び出し、dataをresultにデコードする。
// bodyとresultはnilでもよい。
func (c *Client) Call(ctx context.Context, method, path string, body, result any) error {
	status, raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status >= http.StatusBadRequest {
			return &APIError{Status: status, Message: truncate(raw)}
		}
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	if status >= http.StatusBadRequest || !env.Success {
		return &APIError{Status: status, Message: env.Message}
	}
	if result != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("dataのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// GetJSON はエンベロープを持たないJSONを取得する。/health などで使用する。
// 2xx以外でも本文がJSONならresultにデコードしたうえで *APIError を返す。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	decodeErr := error(nil)
	if result != nil {
		decodeErr = json.Unmarshal(raw, result)
	}
	if status < 200 || status >= 300 {
		return &APIError{Status: status, Message: truncate(raw)}
	}
	if decodeErr != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", decodeErr)
	}
	return nil
}

// do はリクエストを送信し、ステータスと本文を返す。
func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("レスポンスボディの読み込みに失敗: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// maxBodySize は読み込むレスポンス本文の上限。
const maxBodySize = 4 << 20

func truncate(raw []byte) string {
	const max = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
