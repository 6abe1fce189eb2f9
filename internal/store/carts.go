package store

import (
	"context"
	"fmt"
)

// AddCartItem はカートにステッカーを追加する。既に入っている場合は ErrConflict を返す。
func (q *Queries) AddCartItem(ctx context.Context, userID, stickerID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, sticker_id, added_at) VALUES (?, ?, ?)`,
		userID, stickerID, q.timestamp())
	return mapError(err)
}

// ListCartStickers はカート内のステッカーを追加が新しい順に返す。
func (q *Queries) ListCartStickers(ctx context.Context, userID string) ([]Sticker, error) {
	return q.queryStickers(ctx, `
		SELECT s.id, s.name, s.image, s.price, s.description, s.created_at, s.updated_at
		FROM cart_items c JOIN stickers s ON s.id = c.sticker_id
		WHERE c.user_id = ?
		ORDER BY c.added_at DESC, c.rowid DESC`, userID)
}

// RemoveCartItem はカートからステッカーを取り除く。入っていない場合は ErrNotFound を返す。
func (q *Queries) RemoveCartItem(ctx context.Context, userID, stickerID string) error {
	return q.execOne(ctx, `DELETE FROM cart_items WHERE user_id = ? AND sticker_id = ?`, userID, stickerID)
}

// ClearCartItems はカートから指定ステッカーをまとめて取り除く。購入後に使用する。
func (q *Queries) ClearCartItems(ctx context.Context, userID string, stickerIDs []string) error {
	if len(stickerIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(stickerIDs)+1)
	args = append(args, userID)
	for _, id := range stickerIDs {
		args = append(args, id)
	}
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = ? AND sticker_id IN (`+placeholders(len(stickerIDs))+`)`,
		args...); err != nil {
		return fmt.Errorf("カートの整理に失敗: %w", err)
	}
	return nil
}

// AddDownload は無料ダウンロードを記録する。既に記録済みなら何もしない。
func (q *Queries) AddDownload(ctx context.Context, userID, stickerID string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO downloads (user_id, sticker_id, downloaded_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, sticker_id) DO NOTHING`,
		userID, stickerID, q.timestamp())
	if err != nil {
		return fmt.Errorf("ダウンロード記録に失敗: %w", err)
	}
	return nil
}

// ListDownloadStickerIDs はダウンロード済みのステッカーIDを新しい順に返す。
func (q *Queries) ListDownloadStickerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT sticker_id FROM downloads WHERE user_id = ?
		ORDER BY downloaded_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("ダウンロード履歴の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
