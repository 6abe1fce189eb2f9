package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// コンテンツの種別。
const (
	ContentTerms   = "terms"
	ContentPrivacy = "privacy"
	ContentAbout   = "about"
)

// Content はcontentsテーブルの1行。
type Content struct {
	ID          string
	Kind        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const contentColumns = `id, kind, description, created_at, updated_at`

func scanContent(r rowScanner) (Content, error) {
	var c Content
	var created, updated string
	if err := r.Scan(&c.ID, &c.Kind, &c.Description, &created, &updated); err != nil {
		return Content{}, mapError(err)
	}
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return Content{}, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return Content{}, err
	}
	return c, nil
}

// CreateContent はコンテンツを作成する。
func (q *Queries) CreateContent(ctx context.Context, id, kind, description string) (Content, error) {
	now := q.timestamp()
	return scanContent(q.db.QueryRowContext(ctx, `
		INSERT INTO contents (id, kind, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+contentColumns, id, kind, description, now, now))
}

// ListContents は種別のコンテンツを新しい順に返す。
func (q *Queries) ListContents(ctx context.Context, kind string) ([]Content, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM contents WHERE kind = ?
		ORDER BY created_at DESC, rowid DESC`, kind)
	if err != nil {
		return nil, fmt.Errorf("コンテンツの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []Content{}
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// UpsertLatestContent は種別の最新コンテンツを更新する。無ければ newID で作成する。
// 呼び出し側でトランザクションを張ること。
func (q *Queries) UpsertLatestContent(ctx context.Context, newID, kind, description string) (Content, error) {
	updated, err := scanContent(q.db.QueryRowContext(ctx, `
		UPDATE contents SET description = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM contents WHERE kind = ?
			ORDER BY created_at DESC, rowid DESC LIMIT 1
		)
		RETURNING `+contentColumns, description, q.timestamp(), kind))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Content{}, err
	}
	return q.CreateContent(ctx, newID, kind, description)
}

// DeleteContent は種別とIDが一致するコンテンツを削除する。
func (q *Queries) DeleteContent(ctx context.Context, kind, id string) error {
	return q.execOne(ctx, `DELETE FROM contents WHERE id = ? AND kind = ?`, id, kind)
}
