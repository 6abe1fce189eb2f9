package store

import (
	"context"
	"fmt"
)

// DashboardStats は管理画面の集計値。
type DashboardStats struct {
	TotalUsers    int64
	TotalEarnings float64
	TotalStickers int64
}

// GetDashboardStats は管理画面の集計値を返す。
func (q *Queries) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	var s DashboardStats
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&s.TotalUsers); err != nil {
		return s, fmt.Errorf("利用者数の取得に失敗: %w", err)
	}
	total, err := q.SumPaymentAmounts(ctx)
	if err != nil {
		return s, err
	}
	s.TotalEarnings = total
	if s.TotalStickers, err = q.CountAllStickers(ctx); err != nil {
		return s, err
	}
	return s, nil
}
