package store

import (
	"context"
	"fmt"
	"time"
)

// Sticker はstickersテーブルの1行。
type Sticker struct {
	ID          string
	Name        string
	Image       string
	Price       float64
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StickerParams はステッカーの作成・更新の引数。
type StickerParams struct {
	ID          string
	Name        string
	Image       string
	Price       float64
	Description string
}

const stickerColumns = `id, name, image, price, description, created_at, updated_at`

func scanSticker(r rowScanner) (Sticker, error) {
	var s Sticker
	var created, updated string
	if err := r.Scan(&s.ID, &s.Name, &s.Image, &s.Price, &s.Description, &created, &updated); err != nil {
		return Sticker{}, mapError(err)
	}
	var err error
	if s.CreatedAt, err = parseTime(created); err != nil {
		return Sticker{}, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return Sticker{}, err
	}
	return s, nil
}

func (q *Queries) queryStickers(ctx context.Context, query string, args ...any) ([]Sticker, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ステッカーの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []Sticker{}
	for rows.Next() {
		s, err := scanSticker(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// CreateSticker はステッカーを作成する。名前が重複する場合は ErrConflict を返す。
func (q *Queries) CreateSticker(ctx context.Context, arg StickerParams) (Sticker, error) {
	now := q.timestamp()
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO stickers (id, name, image, price, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+stickerColumns,
		arg.ID, arg.Name, arg.Image, arg.Price, arg.Description, now, now)
	return scanSticker(row)
}

// GetSticker はIDでステッカーを取得する。
func (q *Queries) GetSticker(ctx context.Context, id string) (Sticker, error) {
	return scanSticker(q.db.QueryRowContext(ctx, `SELECT `+stickerColumns+` FROM stickers WHERE id = ?`, id))
}

// GetStickerByName は名前でステッカーを取得する。
func (q *Queries) GetStickerByName(ctx context.Context, name string) (Sticker, error) {
	return scanSticker(q.db.QueryRowContext(ctx, `SELECT `+stickerColumns+` FROM stickers WHERE name = ?`, name))
}

// ListStickers はステッカーを新しい順に返す。name が空でなければ部分一致で絞り込む。
func (q *Queries) ListStickers(ctx context.Context, name string, limit, offset int) ([]Sticker, error) {
	return q.queryStickers(ctx, `
		SELECT `+stickerColumns+` FROM stickers
		WHERE (? = '' OR name LIKE ? ESCAPE '\')
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, name, escapeLike(name), limit, offset)
}

// CountStickers はListStickersと同じ条件の件数を返す。
func (q *Queries) CountStickers(ctx context.Context, name string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stickers WHERE (? = '' OR name LIKE ? ESCAPE '\')`,
		name, escapeLike(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ステッカー数の取得に失敗: %w", err)
	}
	return n, nil
}

// UpdateSticker はステッカーを更新する。
func (q *Queries) UpdateSticker(ctx context.Context, arg StickerParams) (Sticker, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE stickers SET name = ?, image = ?, price = ?, description = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+stickerColumns,
		arg.Name, arg.Image, arg.Price, arg.Description, q.timestamp(), arg.ID)
	return scanSticker(row)
}

// DeleteSticker はステッカーを削除する。カートからも取り除く。
func (q *Queries) DeleteSticker(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM cart_items WHERE sticker_id = ?`, id); err != nil {
		return fmt.Errorf("カートからの削除に失敗: %w", err)
	}
	return q.execOne(ctx, `DELETE FROM stickers WHERE id = ?`, id)
}

// GetStickersByIDs は指定IDのステッカーを ids の順で返す。存在しないIDは結果に含まれない。
func (q *Queries) GetStickersByIDs(ctx context.Context, ids []string) ([]Sticker, error) {
	if len(ids) == 0 {
		return []Sticker{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := q.queryStickers(ctx,
		`SELECT `+stickerColumns+` FROM stickers WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Sticker, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	ordered := make([]Sticker, 0, len(found))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, s)
	}
	return ordered, nil
}

// ListOwnedStickers は完了した決済と無料ダウンロードで取得したステッカーを重複なく返す。
func (q *Queries) ListOwnedStickers(ctx context.Context, userID string) ([]Sticker, error) {
	return q.queryStickers(ctx, `
		SELECT `+stickerColumns+` FROM stickers
		WHERE id IN (
			SELECT ps.sticker_id FROM payment_stickers ps
			JOIN payments p ON p.id = ps.payment_id
			WHERE p.user_id = ? AND p.is_completed = 1
			UNION
			SELECT sticker_id FROM downloads WHERE user_id = ?
		)
		ORDER BY created_at DESC, rowid DESC`, userID, userID)
}

// CountAllStickers はステッカーの総数を返す。
func (q *Queries) CountAllStickers(ctx context.Context) (int64, error) {
	return q.CountStickers(ctx, "")
}
