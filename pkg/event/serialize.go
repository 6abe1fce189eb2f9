package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は指定トピック宛てのイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(topic string, eventType Type, data any) (*Event, error) {
	if topic == "" {
		return nil, errors.New("トピックが空です")
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Type:      eventType,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// Marshal はイベントをRedis等へ送るためのバイト列に変換する。
func Marshal(e *Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	return body, nil
}

// Unmarshal はMarshalで生成したバイト列をイベントに戻す。
// トピックまたは種類が欠けたイベントはエラーとする。
func Unmarshal(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("イベントのデシリアライズに失敗: %w", err)
	}
	if e.Topic == "" || e.Type == "" {
		return nil, errors.New("トピックまたはイベント種別が欠けています")
	}
	return &e, nil
}
