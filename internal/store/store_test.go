package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/nao1215/pmoji/pkg/errno"
)

// newTestStore はインメモリSQLiteでストアを構築する。
// 時計は呼び出しごとに1秒進むので作成順と created_at の順が一致する。
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("ストアのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return s
}

func mustCreateUser(t *testing.T, s *Store, id, name, role string) User {
	t.Helper()

	u, err := s.CreateUser(context.Background(), CreateUserParams{
		ID:           id,
		Name:         name,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("CreateUser()でエラーが発生: %v", err)
	}
	return u
}

func mustCreateSticker(t *testing.T, s *Store, id, name string, price float64) Sticker {
	t.Helper()

	st, err := s.CreateSticker(context.Background(), StickerParams{ID: id, Name: name, Price: price})
	if err != nil {
		t.Fatalf("CreateSticker()でエラーが発生: %v", err)
	}
	return st
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("メールアドレスを小文字で保存し大文字でも検索できること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		_, err := s.CreateUser(ctx, CreateUserParams{
			ID: "u1", Name: "Alice", Email: "Alice@Example.com", PasswordHash: "h", Role: "user",
		})
		if err != nil {
			t.Fatalf("CreateUser()でエラーが発生: %v", err)
		}
		got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail()でエラーが発生: %v", err)
		}
		if got.Email != "alice@example.com" {
			t.Errorf("Email = %q, want %q", got.Email, "alice@example.com")
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt が設定されていない")
		}
	})

	t.Run("重複したメールアドレスはErrConflictになること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		mustCreateUser(t, s, "u1", "Alice", "user")
		_, err := s.CreateUser(ctx, CreateUserParams{
			ID: "u2", Name: "Alice2", Email: "u1@example.com", PasswordHash: "h", Role: "user",
		})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("存在しない利用者はErrNotFoundになること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUserByID() err = %v, want ErrNotFound", err)
		}
		if err := s.UpdateUserRole(ctx, "missing", "admin"); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateUserRole() err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ロール別のIDを作成順に返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		mustCreateUser(t, s, "a1", "Admin1", "admin")
		mustCreateUser(t, s, "u1", "User1", "user")
		mustCreateUser(t, s, "a2", "Admin2", "admin")

		got, err := s.ListUserIDsByRole(ctx, "admin")
		if err != nil {
			t.Fatalf("ListUserIDsByRole()でエラーが発生: %v", err)
		}
		if !slices.Equal(got, []string{"a1", "a2"}) {
			t.Errorf("ListUserIDsByRole() = %v, want [a1 a2]", got)
		}
	})
}

func TestListUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	mustCreateUser(t, s, "admin", "Boss", "admin")
	mustCreateUser(t, s, "u1", "Alice", "user")
	mustCreateUser(t, s, "u2", "Bob", "user")
	mustCreateUser(t, s, "u3", "alicia", "user")
	mustCreateUser(t, s, "u4", "100%_club", "user")

	t.Run("管理者と自分自身を除き新しい順に通し番号を付けること", func(t *testing.T) {
		t.Parallel()

		f := UserFilter{ExcludeID: "u2"}
		got, err := s.ListUsers(ctx, f, 10, 0)
		if err != nil {
			t.Fatalf("ListUsers()でエラーが発生: %v", err)
		}
		var ids []string
		for i, r := range got {
			ids = append(ids, r.ID)
			if r.Serial != int64(i+1) {
				t.Errorf("Serial[%d] = %d, want %d", i, r.Serial, i+1)
			}
		}
		if !slices.Equal(ids, []string{"u4", "u3", "u1"}) {
			t.Errorf("ids = %v, want [u4 u3 u1]", ids)
		}
		n, err := s.CountUsers(ctx, f)
		if err != nil {
			t.Fatalf("CountUsers()でエラーが発生: %v", err)
		}
		if n != 3 {
			t.Errorf("CountUsers() = %d, want 3", n)
		}
	})

	t.Run("名前の部分一致は大文字小文字を区別しないこと", func(t *testing.T) {
		t.Parallel()

		got, err := s.ListUsers(ctx, UserFilter{ExcludeID: "admin", Name: "ALI"}, 10, 0)
		if err != nil {
			t.Fatalf("ListUsers()でエラーが発生: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})

	t.Run("ワイルドカード文字はリテラルとして扱うこと", func(t *testing.T) {
		t.Parallel()

		got, err := s.ListUsers(ctx, UserFilter{ExcludeID: "admin", Name: "%_"}, 10, 0)
		if err != nil {
			t.Fatalf("ListUsers()でエラーが発生: %v", err)
		}
		if len(got) != 1 || got[0].ID != "u4" {
			t.Errorf("got = %+v, want only u4", got)
		}
	})

	t.Run("ページ2では通し番号が続きから始まること", func(t *testing.T) {
		t.Parallel()

		got, err := s.ListUsers(ctx, UserFilter{ExcludeID: "admin"}, 2, 2)
		if err != nil {
			t.Fatalf("ListUsers()でエラーが発生: %v", err)
		}
		if len(got) != 2 || got[0].Serial != 3 {
			t.Errorf("got = %+v, want serial 3 first", got)
		}
	})

	t.Run("作成日で絞り込めること", func(t *testing.T) {
		t.Parallel()

		got, err := s.ListUsers(ctx, UserFilter{ExcludeID: "admin", Date: "2024-03-10"}, 10, 0)
		if err != nil {
			t.Fatalf("ListUsers()でエラーが発生: %v", err)
		}
		if len(got) != 4 {
			t.Errorf("len = %d, want 4", len(got))
		}
		got, err = s.ListUsers(ctx, UserFilter{ExcludeID: "admin", Date: "2024-03-11"}, 10, 0)
		if err != nil {
			t.Fatalf("ListUsers()でエラーが発生: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("len = %d, want 0", len(got))
		}
	})

	t.Run("不正な日付はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := s.ListUsers(ctx, UserFilter{Date: "10/03/2024"}, 10, 0); err == nil {
			t.Error("ListUsers() = nil, want error")
		}
	})
}

func TestStickers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("名前の重複はErrConflictになること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		mustCreateSticker(t, s, "s1", "cat", 1.5)
		_, err := s.CreateSticker(ctx, StickerParams{ID: "s2", Name: "cat", Price: 2})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("IDの順序を保ち存在しないIDと重複を除くこと", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		mustCreateSticker(t, s, "s1", "cat", 1)
		mustCreateSticker(t, s, "s2", "dog", 2)

		got, err := s.GetStickersByIDs(ctx, []string{"s2", "missing", "s1", "s2"})
		if err != nil {
			t.Fatalf("GetStickersByIDs()でエラーが発生: %v", err)
		}
		if len(got) != 2 || got[0].ID != "s2" || got[1].ID != "s1" {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("所有ステッカーは完了決済とダウンロードを重複なく合わせること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		mustCreateUser(t, s, "u1", "Alice", "user")
		mustCreateSticker(t, s, "s1", "cat", 1)
		mustCreateSticker(t, s, "s2", "dog", 2)
		mustCreateSticker(t, s, "s3", "fox", 3)

		err := s.InTx(ctx, func(q *Queries) error {
			if _, err := q.CreatePayment(ctx, CreatePaymentParams{
				ID: "p1", TransactionID: "tx-1", UserID: "u1", StickerIDs: []string{"s1", "s2"},
				Amount: 3, Status: PaymentCompleted,
			}); err != nil {
				return err
			}
			_, err := q.CreatePayment(ctx, CreatePaymentParams{
				ID: "p2", TransactionID: "tx-2", UserID: "u1", StickerIDs: []string{"s3"},
				Amount: 3, Status: PaymentPending,
			})
			return err
		})
		if err != nil {
			t.Fatalf("CreatePayment()でエラーが発生: %v", err)
		}
		if err := s.AddDownload(ctx, "u1", "s2"); err != nil {
			t.Fatalf("AddDownload()でエラーが発生: %v", err)
		}

		got, err := s.ListOwnedStickers(ctx, "u1")
		if err != nil {
			t.Fatalf("ListOwnedStickers()でエラーが発生: %v", err)
		}
		var ids []string
		for _, st := range got {
			ids = append(ids, st.ID)
		}
		if !slices.Equal(ids, []string{"s2", "s1"}) {
			t.Errorf("ids = %v, want [s2 s1]", ids)
		}
	})

	t.Run("削除するとカートからも取り除かれること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		mustCreateSticker(t, s, "s1", "cat", 1)
		if err := s.AddCartItem(ctx, "u1", "s1"); err != nil {
			t.Fatalf("AddCartItem()でエラーが発生: %v", err)
		}
		if err := s.DeleteSticker(ctx, "s1"); err != nil {
			t.Fatalf("DeleteSticker()でエラーが発生: %v", err)
		}
		if err := s.RemoveCartItem(ctx, "u1", "s1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("RemoveCartItem() err = %v, want ErrNotFound", err)
		}
		if err := s.DeleteSticker(ctx, "s1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteSticker() err = %v, want ErrNotFound", err)
		}
	})
}

func TestPayments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	mustCreateUser(t, s, "u1", "Alice", "user")
	mustCreateUser(t, s, "u2", "Bob", "user")
	for i, uid := range []string{"u1", "u2", "u1"} {
		id := fmt.Sprintf("p%d", i+1)
		_, err := s.CreatePayment(ctx, CreatePaymentParams{
			ID: id, TransactionID: "tx-" + id, UserID: uid,
			StickerIDs: []string{"s2", "s1"}, Amount: float64(10 * (i + 1)), Status: PaymentCompleted,
		})
		if err != nil {
			t.Fatalf("CreatePayment()でエラーが発生: %v", err)
		}
	}

	t.Run("購入時のステッカー順を保持すること", func(t *testing.T) {
		t.Parallel()

		p, err := s.GetPayment(ctx, "p1")
		if err != nil {
			t.Fatalf("GetPayment()でエラーが発生: %v", err)
		}
		if !slices.Equal(p.StickerIDs, []string{"s2", "s1"}) {
			t.Errorf("StickerIDs = %v, want [s2 s1]", p.StickerIDs)
		}
		if p.Date != "2024-03-10" || !p.IsCompleted {
			t.Errorf("Date = %q, IsCompleted = %v", p.Date, p.IsCompleted)
		}
	})

	t.Run("利用者名で絞り込み新しい順に返すこと", func(t *testing.T) {
		t.Parallel()

		f := PaymentFilter{UserName: "ali", Date: "2024-03-10"}
		got, err := s.ListPayments(ctx, f, 5, 0)
		if err != nil {
			t.Fatalf("ListPayments()でエラーが発生: %v", err)
		}
		if len(got) != 2 || got[0].ID != "p3" || got[0].UserName != "Alice" {
			t.Errorf("got = %+v", got)
		}
		n, err := s.CountPayments(ctx, f)
		if err != nil {
			t.Fatalf("CountPayments()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("CountPayments() = %d, want 2", n)
		}
	})

	t.Run("取引IDの重複はErrConflictになること", func(t *testing.T) {
		t.Parallel()

		_, err := s.CreatePayment(ctx, CreatePaymentParams{
			ID: "dup", TransactionID: "tx-p1", UserID: "u1", Amount: 1, Status: PaymentCompleted,
		})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("月別売上は該当月だけに集計されること", func(t *testing.T) {
		t.Parallel()

		months, err := s.MonthlyEarnings(ctx, 2024)
		if err != nil {
			t.Fatalf("MonthlyEarnings()でエラーが発生: %v", err)
		}
		if months[2] != 60 {
			t.Errorf("3月 = %v, want 60", months[2])
		}
		if months[0] != 0 || months[11] != 0 {
			t.Errorf("他の月に売上がある: %v", months)
		}
		other, err := s.MonthlyEarnings(ctx, 2023)
		if err != nil {
			t.Fatalf("MonthlyEarnings()でエラーが発生: %v", err)
		}
		if other != [12]float64{} {
			t.Errorf("2023年 = %v, want all zero", other)
		}
	})

	t.Run("管理画面の集計値を返すこと", func(t *testing.T) {
		t.Parallel()

		stats, err := s.GetDashboardStats(ctx)
		if err != nil {
			t.Fatalf("GetDashboardStats()でエラーが発生: %v", err)
		}
		if stats.TotalUsers != 2 || stats.TotalEarnings != 60 || stats.TotalStickers != 0 {
			t.Errorf("stats = %+v", stats)
		}
	})
}

func TestRedeemPromoCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	mustCreateUser(t, s, "u1", "Alice", "user")
	mustCreateUser(t, s, "u2", "Bob", "user")
	if _, err := s.CreatePromoCode(ctx, "pc1", "FREE2024"); err != nil {
		t.Fatalf("CreatePromoCode()でエラーが発生: %v", err)
	}

	redeem := func(code, userID string) (PromoCode, error) {
		var out PromoCode
		err := s.InTx(ctx, func(q *Queries) error {
			var err error
			out, err = q.RedeemPromoCode(ctx, code, userID)
			return err
		})
		return out, err
	}

	got, err := redeem("FREE2024", "u1")
	if err != nil {
		t.Fatalf("RedeemPromoCode()でエラーが発生: %v", err)
	}
	if got.Status != PromoCodeUsed || got.UserID != "u1" {
		t.Errorf("got = %+v", got)
	}
	u, err := s.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID()でエラーが発生: %v", err)
	}
	if u.PromoCode != "FREE2024" {
		t.Errorf("PromoCode = %q, want %q", u.PromoCode, "FREE2024")
	}

	if _, err := redeem("FREE2024", "u2"); !errors.Is(err, ErrPromoCodeUsed) {
		t.Errorf("2回目の使用 err = %v, want ErrPromoCodeUsed", err)
	}
	if _, err := redeem("NOPE", "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("存在しないコード err = %v, want ErrNotFound", err)
	}

	list, err := s.ListPromoCodes(ctx)
	if err != nil {
		t.Fatalf("ListPromoCodes()でエラーが発生: %v", err)
	}
	if len(list) != 1 || list[0].Serial != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestCart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	mustCreateSticker(t, s, "s1", "cat", 1)
	mustCreateSticker(t, s, "s2", "dog", 2)

	for _, id := range []string{"s1", "s2"} {
		if err := s.AddCartItem(ctx, "u1", id); err != nil {
			t.Fatalf("AddCartItem()でエラーが発生: %v", err)
		}
	}
	if err := s.AddCartItem(ctx, "u1", "s1"); !errors.Is(err, ErrConflict) {
		t.Errorf("重複追加 err = %v, want ErrConflict", err)
	}

	got, err := s.ListCartStickers(ctx, "u1")
	if err != nil {
		t.Fatalf("ListCartStickers()でエラーが発生: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s2" {
		t.Errorf("got = %+v, want s2 first", got)
	}

	if err := s.ClearCartItems(ctx, "u1", []string{"s1", "s2"}); err != nil {
		t.Fatalf("ClearCartItems()でエラーが発生: %v", err)
	}
	got, err = s.ListCartStickers(ctx, "u1")
	if err != nil {
		t.Fatalf("ListCartStickers()でエラーが発生: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestUpsertLatestContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	first, err := s.UpsertLatestContent(ctx, "c1", ContentTerms, "<p>v1</p>")
	if err != nil {
		t.Fatalf("UpsertLatestContent()でエラーが発生: %v", err)
	}
	second, err := s.UpsertLatestContent(ctx, "c2", ContentTerms, "<p>v2</p>")
	if err != nil {
		t.Fatalf("UpsertLatestContent()でエラーが発生: %v", err)
	}
	if second.ID != first.ID || second.Description != "<p>v2</p>" {
		t.Errorf("second = %+v, want update of %s", second, first.ID)
	}

	list, err := s.ListContents(ctx, ContentTerms)
	if err != nil {
		t.Fatalf("ListContents()でエラーが発生: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
	if err := s.DeleteContent(ctx, ContentPrivacy, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("種別違いの削除 err = %v, want ErrNotFound", err)
	}
}

func TestNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	params := []CreateNotificationParams{
		{ID: "n1", TargetUserID: "u1", AdminRecipientIDs: []string{"a1"}, UserMessage: "hi u1", AdminMessage: "u1 did"},
		{ID: "n2", TargetUserID: "u2", UserMessage: "hi u2"},
		{ID: "n3", AdminRecipientIDs: []string{"a1", "a2"}, AdminMessage: "admins only"},
	}
	if err := s.InTx(ctx, func(q *Queries) error {
		_, err := q.CreateNotifications(ctx, params)
		return err
	}); err != nil {
		t.Fatalf("CreateNotifications()でエラーが発生: %v", err)
	}

	t.Run("両方のメッセージが空の通知は作成できないこと", func(t *testing.T) {
		t.Parallel()

		if _, err := s.CreateNotification(ctx, CreateNotificationParams{ID: "bad"}); err == nil {
			t.Error("CreateNotification() = nil, want error")
		}
	})

	t.Run("管理者向け一覧は管理者メッセージを持つ通知だけを新しい順に返すこと", func(t *testing.T) {
		t.Parallel()

		got, err := s.ListAdminNotifications(ctx, 10, 0)
		if err != nil {
			t.Fatalf("ListAdminNotifications()でエラーが発生: %v", err)
		}
		if len(got) != 2 || got[0].ID != "n3" || got[1].ID != "n1" {
			t.Errorf("got = %+v", got)
		}
		if !slices.Equal(got[0].AdminRecipientIDs, []string{"a1", "a2"}) {
			t.Errorf("AdminRecipientIDs = %v", got[0].AdminRecipientIDs)
		}
		if got[0].TargetUserID != "" {
			t.Errorf("TargetUserID = %q, want empty", got[0].TargetUserID)
		}
	})

	t.Run("利用者向け一覧は本人宛てだけを返すこと", func(t *testing.T) {
		t.Parallel()

		got, err := s.ListUserNotifications(ctx, "u2", 10, 0)
		if err != nil {
			t.Fatalf("ListUserNotifications()でエラーが発生: %v", err)
		}
		if len(got) != 1 || got[0].UserMessage != "hi u2" {
			t.Errorf("got = %+v", got)
		}
		n, err := s.CountUserNotifications(ctx, "u2")
		if err != nil {
			t.Fatalf("CountUserNotifications()でエラーが発生: %v", err)
		}
		if n != 1 {
			t.Errorf("CountUserNotifications() = %d, want 1", n)
		}
	})
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "abc", want: "%abc%"},
		{in: "50%", want: `%50\%%`},
		{in: `a_b\c`, want: `%a\_b\\c%`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAsErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want *errno.Errno
	}{
		{name: "ErrNotFoundは404になること", err: ErrNotFound, want: errno.ErrNotFound},
		{name: "ErrConflictは409になること", err: fmt.Errorf("%w: dup", ErrConflict), want: errno.ErrConflict},
		{name: "その他のエラーは500になること", err: errors.New("disk I/O error"), want: errno.ErrInternal},
		{name: "分類済みのエラーはそのまま返すこと", err: errno.New(errno.ErrBadRequest, "bad"), want: errno.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := AsErrno(tt.err, "", "")
			if !errors.Is(got, tt.want) {
				t.Errorf("AsErrno() = %v, want %v", got, tt.want)
			}
		})
	}

	if AsErrno(nil, "", "") != nil {
		t.Error("AsErrno(nil) != nil")
	}
}
