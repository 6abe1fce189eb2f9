package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// プロモーションコードの状態。
const (
	PromoCodeNew  = "new"
	PromoCodeUsed = "used"
)

// ErrPromoCodeUsed は使用済みのコードを再度使おうとしたことを表す。
var ErrPromoCodeUsed = errors.New("store: promo code already used")

// PromoCode はpromo_codesテーブルの1行。
type PromoCode struct {
	ID        string
	Code      string
	Status    string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PromoCodeListRow はプロモーションコード一覧の1行。
type PromoCodeListRow struct {
	Serial int64
	PromoCode
}

const promoCodeColumns = `id, code, status, user_id, created_at, updated_at`

func scanPromoCode(r rowScanner, extra ...any) (PromoCode, error) {
	var p PromoCode
	var created, updated string
	dest := append(extra, &p.ID, &p.Code, &p.Status, &p.UserID, &created, &updated)
	if err := r.Scan(dest...); err != nil {
		return PromoCode{}, mapError(err)
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return PromoCode{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return PromoCode{}, err
	}
	return p, nil
}

// CreatePromoCode はプロモーションコードを作成する。
func (q *Queries) CreatePromoCode(ctx context.Context, id, code string) (PromoCode, error) {
	now := q.timestamp()
	return scanPromoCode(q.db.QueryRowContext(ctx, `
		INSERT INTO promo_codes (id, code, status, created_at, updated_at)
		VALUES (?, ?, 'new', ?, ?)
		RETURNING `+promoCodeColumns, id, code, now, now))
}

// GetPromoCode はIDでプロモーションコードを取得する。
func (q *Queries) GetPromoCode(ctx context.Context, id string) (PromoCode, error) {
	return scanPromoCode(q.db.QueryRowContext(ctx,
		`SELECT `+promoCodeColumns+` FROM promo_codes WHERE id = ?`, id))
}

// GetPromoCodeByCode はコード文字列でプロモーションコードを取得する。
func (q *Queries) GetPromoCodeByCode(ctx context.Context, code string) (PromoCode, error) {
	return scanPromoCode(q.db.QueryRowContext(ctx,
		`SELECT `+promoCodeColumns+` FROM promo_codes WHERE code = ?`, code))
}

// ListPromoCodes は全てのプロモーションコードを新しい順に通し番号付きで返す。
func (q *Queries) ListPromoCodes(ctx context.Context) ([]PromoCodeListRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT ROW_NUMBER() OVER (ORDER BY created_at DESC, rowid DESC), `+promoCodeColumns+`
		FROM promo_codes
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("プロモーションコード一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []PromoCodeListRow{}
	for rows.Next() {
		var serial int64
		p, err := scanPromoCode(rows, &serial)
		if err != nil {
			return nil, err
		}
		list = append(list, PromoCodeListRow{Serial: serial, PromoCode: p})
	}
	return list, rows.Err()
}

// UpdatePromoCodeParams はUpdatePromoCodeの引数。空のフィールドは変更しない。
type UpdatePromoCodeParams struct {
	ID     string
	Code   string
	Status string
}

// UpdatePromoCode はコード文字列または状態を更新する。
func (q *Queries) UpdatePromoCode(ctx context.Context, arg UpdatePromoCodeParams) (PromoCode, error) {
	return scanPromoCode(q.db.QueryRowContext(ctx, `
		UPDATE promo_codes SET
			code = CASE WHEN ? = '' THEN code ELSE ? END,
			status = CASE WHEN ? = '' THEN status ELSE ? END,
			updated_at = ?
		WHERE id = ?
		RETURNING `+promoCodeColumns,
		arg.Code, arg.Code, arg.Status, arg.Status, q.timestamp(), arg.ID))
}

// DeletePromoCode はプロモーションコードを削除する。
func (q *Queries) DeletePromoCode(ctx context.Context, id string) error {
	return q.execOne(ctx, `DELETE FROM promo_codes WHERE id = ?`, id)
}

// RedeemPromoCode は未使用のコードを使用済みにして利用者に記録する。
// 呼び出し側でトランザクションを張ること。
// コードが無ければ ErrNotFound、使用済みなら ErrPromoCodeUsed を返す。
func (q *Queries) RedeemPromoCode(ctx context.Context, code, userID string) (PromoCode, error) {
	p, err := q.GetPromoCodeByCode(ctx, code)
	if err != nil {
		return PromoCode{}, err
	}
	if p.Status == PromoCodeUsed {
		return PromoCode{}, ErrPromoCodeUsed
	}

	now := q.timestamp()
	redeemed, err := scanPromoCode(q.db.QueryRowContext(ctx, `
		UPDATE promo_codes SET status = 'used', user_id = ?, updated_at = ?
		WHERE id = ? AND status = 'new'
		RETURNING `+promoCodeColumns, userID, now, p.ID))
	if errors.Is(err, ErrNotFound) {
		return PromoCode{}, ErrPromoCodeUsed
	}
	if err != nil {
		return PromoCode{}, err
	}
	if err := q.SetUserPromoCode(ctx, userID, code); err != nil {
		return PromoCode{}, fmt.Errorf("利用者へのコード記録に失敗: %w", err)
	}
	return redeemed, nil
}
