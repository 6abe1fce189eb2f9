package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// User はusersテーブルの1行。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Address      string
	Image        string
	Role         string
	PromoCode    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Role         string
}

const userColumns = `id, name, email, password_hash, phone, address, image, role, promo_code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var u User
	var created, updated string
	if err := r.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.Address,
		&u.Image, &u.Role, &u.PromoCode, &created, &updated); err != nil {
		return User{}, mapError(err)
	}
	var err error
	if u.CreatedAt, err = parseTime(created); err != nil {
		return User{}, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser は利用者を作成する。メールアドレスは小文字で保存する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	now := q.timestamp()
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, phone, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+userColumns,
		arg.ID, arg.Name, strings.ToLower(arg.Email), arg.PasswordHash, arg.Phone, arg.Role, now, now)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("利用者の作成に失敗: %w", err)
	}
	return u, nil
}

// GetUserByID はIDで利用者を取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail はメールアドレスで利用者を取得する。大文字小文字は区別しない。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return scanUser(row)
}

// UpdateUserProfileParams はUpdateUserProfileの引数。
type UpdateUserProfileParams struct {
	ID      string
	Name    string
	Phone   string
	Address string
	Image   string
}

// UpdateUserProfile はプロフィールを更新する。
func (q *Queries) UpdateUserProfile(ctx context.Context, arg UpdateUserProfileParams) (User, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE users SET name = ?, phone = ?, address = ?, image = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+userColumns,
		arg.Name, arg.Phone, arg.Address, arg.Image, q.timestamp(), arg.ID)
	return scanUser(row)
}

// UpdateUserPassword はパスワードハッシュを更新する。
func (q *Queries) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	return q.execOne(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, q.timestamp(), id)
}

// UpdateUserRole はロールを更新する。
func (q *Queries) UpdateUserRole(ctx context.Context, id, role string) error {
	return q.execOne(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, q.timestamp(), id)
}

// SetUserPromoCode は利用者に適用済みプロモーションコードを記録する。
func (q *Queries) SetUserPromoCode(ctx context.Context, id, code string) error {
	return q.execOne(ctx, `UPDATE users SET promo_code = ?, updated_at = ? WHERE id = ?`,
		code, q.timestamp(), id)
}

// ListUserIDsByRole は指定ロールの利用者IDを作成順に返す。
func (q *Queries) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id FROM users WHERE role = ? ORDER BY created_at, rowid`, role)
	if err != nil {
		return nil, fmt.Errorf("利用者IDの取得に失敗: %w", err)
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

// UserFilter は管理者向け利用者一覧の絞り込み条件。
type UserFilter struct {
	// ExcludeID は一覧から除外する利用者（リクエストした管理者自身）。
	ExcludeID string
	// Name は名前の部分一致（大文字小文字を区別しない）。
	Name string
	// Email はメールアドレスの部分一致（大文字小文字を区別しない）。
	Email string
	// Date は作成日（YYYY-MM-DD、UTC）。
	Date string
}

func (f UserFilter) where() (string, []any, error) {
	conds := []string{"role <> 'admin'", "id <> ?"}
	args := []any{f.ExcludeID}
	if f.Name != "" {
		conds = append(conds, `name LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(f.Name))
	}
	if f.Email != "" {
		conds = append(conds, `email LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(f.Email))
	}
	if f.Date != "" {
		from, to, err := dayRange(f.Date)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, "created_at >= ? AND created_at < ?")
		args = append(args, from, to)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// UserListRow は利用者一覧の1行。Serial は絞り込み結果内の新しい順の通し番号。
type UserListRow struct {
	Serial int64
	User
}

// ListUsers は一般利用者を新しい順に返す。
func (q *Queries) ListUsers(ctx context.Context, f UserFilter, limit, offset int) ([]UserListRow, error) {
	where, args, err := f.where()
	if err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT serial, `+userColumns+` FROM (
			SELECT ROW_NUMBER() OVER (ORDER BY created_at DESC, rowid DESC) AS serial, `+userColumns+`
			FROM users`+where+`
		)
		ORDER BY serial
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("利用者一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []UserListRow{}
	for rows.Next() {
		var (
			r                UserListRow
			created, updated string
		)
		if err := rows.Scan(&r.Serial, &r.ID, &r.Name, &r.Email, &r.PasswordHash, &r.Phone,
			&r.Address, &r.Image, &r.Role, &r.PromoCode, &created, &updated); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// CountUsers はListUsersと同じ条件の件数を返す。
func (q *Queries) CountUsers(ctx context.Context, f UserFilter) (int64, error) {
	where, args, err := f.where()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("利用者数の取得に失敗: %w", err)
	}
	return n, nil
}

// execOne は1行だけ更新されることを期待するUPDATE/DELETEを実行する。
func (q *Queries) execOne(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
