package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/middleware"
)

// AdminSeed は起動時に用意するスーパー管理者の情報。
type AdminSeed struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// SeedAdmin はスーパー管理者が存在しなければ作成する。
// 同じメールアドレスの利用者が既にいる場合は何もしない。作成した場合は true を返す。
func SeedAdmin(ctx context.Context, repo Repository, seed AdminSeed) (bool, error) {
	if seed.Email == "" {
		return false, nil
	}
	if seed.Password == "" {
		return false, errors.New("管理者のパスワードが設定されていません")
	}

	_, err := repo.GetUserByEmail(ctx, seed.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("管理者の確認に失敗: %w", err)
	}

	hash, err := hashPassword(seed.Password)
	if err != nil {
		return false, err
	}
	name := seed.Name
	if name == "" {
		name = "Super Admin"
	}
	if _, err := repo.CreateUser(ctx, store.CreateUserParams{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        seed.Email,
		PasswordHash: hash,
		Phone:        seed.Phone,
		Role:         middleware.RoleAdmin,
	}); err != nil {
		return false, fmt.Errorf("管理者の作成に失敗: %w", err)
	}
	return true, nil
}
