package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// 決済の状態。
const (
	PaymentCompleted = "completed"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
)

// Payment はpaymentsテーブルの1行と、含まれるステッカーID。
type Payment struct {
	ID            string
	TransactionID string
	UserID        string
	StickerIDs    []string
	Amount        float64
	Date          string
	Status        string
	IsCompleted   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentWithUser は利用者名を付与した決済。
type PaymentWithUser struct {
	Payment
	UserName string
}

// CreatePaymentParams はCreatePaymentの引数。
type CreatePaymentParams struct {
	ID            string
	TransactionID string
	UserID        string
	StickerIDs    []string
	Amount        float64
	Status        string
}

// CreatePayment は決済と購入ステッカーを記録する。呼び出し側でトランザクションを張ること。
// date は作成日（UTC）になる。
func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	now := q.now().UTC()
	ts := formatTime(now)
	completed := arg.Status == PaymentCompleted

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (id, transaction_id, user_id, amount, date, status, is_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.TransactionID, arg.UserID, arg.Amount, now.Format(dateLayout), arg.Status, completed, ts, ts)
	if err != nil {
		return Payment{}, mapError(err)
	}
	for i, sid := range arg.StickerIDs {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO payment_stickers (payment_id, position, sticker_id) VALUES (?, ?, ?)`,
			arg.ID, i, sid); err != nil {
			return Payment{}, fmt.Errorf("購入ステッカーの記録に失敗: %w", err)
		}
	}
	return q.GetPayment(ctx, arg.ID)
}

const paymentColumns = `p.id, p.transaction_id, p.user_id, p.amount, p.date, p.status, p.is_completed, p.created_at, p.updated_at`

func scanPayment(r rowScanner, extra ...any) (Payment, error) {
	var p Payment
	var created, updated string
	dest := append([]any{&p.ID, &p.TransactionID, &p.UserID, &p.Amount, &p.Date, &p.Status,
		&p.IsCompleted, &created, &updated}, extra...)
	if err := r.Scan(dest...); err != nil {
		return Payment{}, mapError(err)
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return Payment{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// GetPayment はIDで決済を取得する。
func (q *Queries) GetPayment(ctx context.Context, id string) (Payment, error) {
	p, err := scanPayment(q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = ?`, id))
	if err != nil {
		return Payment{}, err
	}
	ids, err := q.paymentStickerIDs(ctx, []string{p.ID})
	if err != nil {
		return Payment{}, err
	}
	p.StickerIDs = ids[p.ID]
	return p, nil
}

// paymentStickerIDs は決済ごとのステッカーIDを購入時の順で返す。
func (q *Queries) paymentStickerIDs(ctx context.Context, paymentIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(paymentIDs))
	if len(paymentIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(paymentIDs))
	for i, id := range paymentIDs {
		args[i] = id
		out[id] = []string{}
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT payment_id, sticker_id FROM payment_stickers
		WHERE payment_id IN (`+placeholders(len(paymentIDs))+`)
		ORDER BY payment_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("購入ステッカーの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var pid, sid string
		if err := rows.Scan(&pid, &sid); err != nil {
			return nil, err
		}
		out[pid] = append(out[pid], sid)
	}
	return out, rows.Err()
}

// PaymentFilter は管理者向け決済一覧の絞り込み条件。
type PaymentFilter struct {
	// UserName は購入者名の部分一致（大文字小文字を区別しない）。
	UserName string
	// Date は決済日（YYYY-MM-DD）。
	Date string
}

func (f PaymentFilter) where() (string, []any, error) {
	var conds []string
	var args []any
	if f.UserName != "" {
		conds = append(conds, `u.name LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(f.UserName))
	}
	if f.Date != "" {
		if _, err := time.Parse(dateLayout, f.Date); err != nil {
			return "", nil, fmt.Errorf("日付の形式が不正です %q: %w", f.Date, err)
		}
		conds = append(conds, "p.date = ?")
		args = append(args, f.Date)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (q *Queries) queryPaymentsWithUser(ctx context.Context, query string, args ...any) ([]PaymentWithUser, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("決済一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []PaymentWithUser{}
	var ids []string
	for rows.Next() {
		var userName string
		p, err := scanPayment(rows, &userName)
		if err != nil {
			return nil, err
		}
		list = append(list, PaymentWithUser{Payment: p, UserName: userName})
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	stickers, err := q.paymentStickerIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].StickerIDs = stickers[list[i].ID]
	}
	return list, nil
}

// ListPayments は決済を新しい順に返す。
func (q *Queries) ListPayments(ctx context.Context, f PaymentFilter, limit, offset int) ([]PaymentWithUser, error) {
	where, args, err := f.where()
	if err != nil {
		return nil, err
	}
	return q.queryPaymentsWithUser(ctx, `
		SELECT `+paymentColumns+`, u.name FROM payments p
		JOIN users u ON u.id = p.user_id`+where+`
		ORDER BY p.created_at DESC, p.rowid DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
}

// CountPayments はListPaymentsと同じ条件の件数を返す。
func (q *Queries) CountPayments(ctx context.Context, f PaymentFilter) (int64, error) {
	where, args, err := f.where()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payments p JOIN users u ON u.id = p.user_id`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("決済数の取得に失敗: %w", err)
	}
	return n, nil
}

// ListAllPayments は全ての決済を新しい順に返す。
func (q *Queries) ListAllPayments(ctx context.Context) ([]PaymentWithUser, error) {
	return q.queryPaymentsWithUser(ctx, `
		SELECT `+paymentColumns+`, u.name FROM payments p
		JOIN users u ON u.id = p.user_id
		ORDER BY p.created_at DESC, p.rowid DESC`)
}

// SumPaymentAmounts は全決済の合計金額を返す。
func (q *Queries) SumPaymentAmounts(ctx context.Context) (float64, error) {
	var total float64
	if err := q.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments`).Scan(&total); err != nil {
		return 0, fmt.Errorf("売上合計の取得に失敗: %w", err)
	}
	return total, nil
}

// MonthlyEarnings は指定年の完了済み決済を月別に合計する。添字0が1月。
func (q *Queries) MonthlyEarnings(ctx context.Context, year int) ([12]float64, error) {
	var months [12]float64
	rows, err := q.db.QueryContext(ctx, `
		SELECT CAST(substr(date, 6, 2) AS INTEGER) AS month, SUM(amount)
		FROM payments
		WHERE is_completed = 1 AND substr(date, 1, 4) = ?
		GROUP BY month`, fmt.Sprintf("%04d", year))
	if err != nil {
		return months, fmt.Errorf("月別売上の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var month int
		var total float64
		if err := rows.Scan(&month, &total); err != nil {
			return months, err
		}
		if month >= 1 && month <= 12 {
			months[month-1] = total
		}
	}
	return months, rows.Err()
}
