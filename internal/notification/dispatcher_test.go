package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/internal/realtime"
	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/event"
	"github.com/nao1215/pmoji/pkg/pagination"
)

// fakeChannel は配信されたイベントを記録するテスト用チャネル。
type fakeChannel struct {
	mu     sync.Mutex
	ready  bool
	err    error
	events []*event.Event
}

func (f *fakeChannel) Ready() bool { return f.ready }

func (f *fakeChannel) Publish(_ context.Context, ev *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeChannel) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Topic)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestStore はインメモリSQLiteのストアを返す。時計は呼び出しごとに1秒進む。
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), store.MemoryPath)
	if err != nil {
		t.Fatalf("ストアのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return s
}

func seedUser(t *testing.T, s *store.Store, id, role string) {
	t.Helper()

	_, err := s.CreateUser(context.Background(), store.CreateUserParams{
		ID: id, Name: id, Email: id + "@example.com", PasswordHash: "h", Role: role,
	})
	if err != nil {
		t.Fatalf("CreateUser()でエラーが発生: %v", err)
	}
}

func countAll(t *testing.T, s *store.Store) int {
	t.Helper()

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM notifications").Scan(&n); err != nil {
		t.Fatalf("件数の取得に失敗: %v", err)
	}
	return n
}

func TestCheckReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		channel Channel
		wantErr error
	}{
		{name: "準備済みならnilを返すこと", channel: &fakeChannel{ready: true}},
		{name: "未準備ならErrChannelNotReadyを返すこと", channel: &fakeChannel{}, wantErr: errno.ErrChannelNotReady},
		{name: "チャネルが無ければErrChannelNotReadyを返すこと", channel: nil, wantErr: errno.ErrChannelNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewDispatcher(newTestStore(t), tt.channel, quietLogger())
			if err := d.CheckReady(); !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckReady() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNotifyUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("1件だけ保存し本人と全管理者に配信すること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "A1", "admin")
		seedUser(t, s, "A2", "admin")
		seedUser(t, s, "U1", "user")
		ch := &fakeChannel{ready: true}
		d := NewDispatcher(s, ch, quietLogger())

		rec, err := d.NotifyUser(ctx, "U1", "purchased sticker", "U1 purchased")
		if err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
		if n := countAll(t, s); n != 1 {
			t.Errorf("保存件数 = %d, want 1", n)
		}
		if !slices.Equal(rec.AdminRecipientIDs, []string{"A1", "A2"}) {
			t.Errorf("AdminRecipientIDs = %v, want [A1 A2]", rec.AdminRecipientIDs)
		}
		want := []string{realtime.Topic("U1"), realtime.Topic("A1"), realtime.Topic("A2")}
		if got := ch.topics(); !slices.Equal(got, want) {
			t.Errorf("配信先 = %v, want %v", got, want)
		}

		data, err := event.DecodeData[event.NotificationData](ch.events[1])
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if data.Message != "U1 purchased" || data.AdminID != "A1" || data.NotificationID != rec.ID {
			t.Errorf("管理者向けデータ = %+v", data)
		}
	})

	t.Run("管理者一覧は呼び出しごとに取得し直すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "A1", "admin")
		seedUser(t, s, "U1", "user")
		d := NewDispatcher(s, &fakeChannel{ready: true}, quietLogger())

		first, err := d.NotifyUser(ctx, "U1", "a", "b")
		if err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
		seedUser(t, s, "A2", "admin")
		second, err := d.NotifyUser(ctx, "U1", "c", "d")
		if err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
		if len(first.AdminRecipientIDs) != 1 || len(second.AdminRecipientIDs) != 2 {
			t.Errorf("first = %v, second = %v", first.AdminRecipientIDs, second.AdminRecipientIDs)
		}
	})

	t.Run("管理者向けメッセージだけの通知は管理者にだけ配信すること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "A1", "admin")
		ch := &fakeChannel{ready: true}
		d := NewDispatcher(s, ch, quietLogger())

		if _, err := d.NotifyUser(ctx, "", "", "system event"); err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
		if got := ch.topics(); !slices.Equal(got, []string{realtime.Topic("A1")}) {
			t.Errorf("配信先 = %v", got)
		}
	})

	t.Run("チャネルが準備できていない場合は何も保存しないこと", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "U1", "user")

		for name, ch := range map[string]Channel{
			"nil":      nil,
			"notReady": &fakeChannel{ready: false},
		} {
			d := NewDispatcher(s, ch, quietLogger())
			_, err := d.NotifyUser(ctx, "U1", "x", "y")
			if !errors.Is(err, errno.ErrChannelNotReady) {
				t.Errorf("%s: err = %v, want ErrChannelNotReady", name, err)
			}
		}
		if n := countAll(t, s); n != 0 {
			t.Errorf("保存件数 = %d, want 0", n)
		}
	})

	t.Run("配信に失敗しても通知は保存され成功すること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "A1", "admin")
		seedUser(t, s, "U1", "user")
		ch := &fakeChannel{ready: true, err: errors.New("broken pipe")}
		d := NewDispatcher(s, ch, quietLogger())

		if _, err := d.NotifyUser(ctx, "U1", "x", "y"); err != nil {
			t.Fatalf("NotifyUser() = %v, want nil", err)
		}
		if n := countAll(t, s); n != 1 {
			t.Errorf("保存件数 = %d, want 1", n)
		}
		if len(ch.events) != 2 {
			t.Errorf("配信試行 = %d, want 2", len(ch.events))
		}
	})

	t.Run("入力が不正な場合は400になること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		d := NewDispatcher(s, &fakeChannel{ready: true}, quietLogger())

		if _, err := d.NotifyUser(ctx, "U1", "", ""); !errors.Is(err, errno.ErrBadRequest) {
			t.Errorf("両方空 err = %v, want ErrBadRequest", err)
		}
		if _, err := d.NotifyUser(ctx, "", "hello", ""); !errors.Is(err, errno.ErrBadRequest) {
			t.Errorf("宛先なし err = %v, want ErrBadRequest", err)
		}
	})
}

func TestNotifyAllUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("一般利用者ごとに1件ずつ保存して配信すること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "A1", "admin")
		for i := range 3 {
			seedUser(t, s, fmt.Sprintf("U%d", i+1), "user")
		}
		ch := &fakeChannel{ready: true}
		d := NewDispatcher(s, ch, quietLogger())

		recs, err := d.NotifyAllUsers(ctx, "new sticker!")
		if err != nil {
			t.Fatalf("NotifyAllUsers()でエラーが発生: %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("len = %d, want 3", len(recs))
		}
		targets := map[string]struct{}{}
		for _, r := range recs {
			targets[r.TargetUserID] = struct{}{}
			if r.UserMessage != "new sticker!" || r.AdminMessage != "" {
				t.Errorf("rec = %+v", r)
			}
		}
		if len(targets) != 3 {
			t.Errorf("宛先の種類 = %d, want 3", len(targets))
		}
		if len(ch.events) != 3 {
			t.Errorf("配信数 = %d, want 3", len(ch.events))
		}
		if slices.Contains(ch.topics(), realtime.Topic("A1")) {
			t.Error("管理者に配信された")
		}
	})

	t.Run("一般利用者がいない場合は空を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		d := NewDispatcher(s, &fakeChannel{ready: true}, quietLogger())

		recs, err := d.NotifyAllUsers(ctx, "hello")
		if err != nil {
			t.Fatalf("NotifyAllUsers()でエラーが発生: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("len = %d, want 0", len(recs))
		}
	})

	t.Run("チャネルが準備できていない場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		seedUser(t, s, "U1", "user")
		d := NewDispatcher(s, &fakeChannel{}, quietLogger())

		if _, err := d.NotifyAllUsers(ctx, "hello"); !errors.Is(err, errno.ErrChannelNotReady) {
			t.Errorf("err = %v, want ErrChannelNotReady", err)
		}
		if n := countAll(t, s); n != 0 {
			t.Errorf("保存件数 = %d, want 0", n)
		}
	})
}

func TestNotifyRoleChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	seedUser(t, s, "A1", "admin")
	seedUser(t, s, "U1", "user")
	ch := &fakeChannel{ready: true}
	d := NewDispatcher(s, ch, quietLogger())

	rec, err := d.NotifyRoleChange(ctx, "U1", "You are now an admin")
	if err != nil {
		t.Fatalf("NotifyRoleChange()でエラーが発生: %v", err)
	}
	if rec.AdminMessage != "" || len(rec.AdminRecipientIDs) != 0 {
		t.Errorf("管理者向け情報が設定されている: %+v", rec)
	}
	if got := ch.topics(); !slices.Equal(got, []string{realtime.Topic("U1")}) {
		t.Errorf("配信先 = %v, want only U1", got)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	seedUser(t, s, "A1", "admin")
	seedUser(t, s, "U1", "user")
	seedUser(t, s, "U2", "user")
	d := NewDispatcher(s, &fakeChannel{ready: true}, quietLogger())

	for i := range 25 {
		if _, err := d.NotifyUser(ctx, "U1", fmt.Sprintf("user %d", i), fmt.Sprintf("admin %d", i)); err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
	}
	if _, err := d.NotifyRoleChange(ctx, "U2", "role changed"); err != nil {
		t.Fatalf("NotifyRoleChange()でエラーが発生: %v", err)
	}

	t.Run("25件の2ページ目は5件で総ページ数は2になること", func(t *testing.T) {
		t.Parallel()

		got, err := d.List(ctx, Requester{ID: "U1", Role: "user"}, pagination.Page{Number: 2, Limit: 20})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(got.Items) != 5 || got.TotalPages != 2 || got.Total != 25 {
			t.Errorf("len = %d, TotalPages = %d, Total = %d", len(got.Items), got.TotalPages, got.Total)
		}
		if got.Items[4].Message != "user 0" {
			t.Errorf("最後の要素 = %q, want %q", got.Items[4].Message, "user 0")
		}
	})

	t.Run("新しい順で繰り返し取得しても順序が変わらないこと", func(t *testing.T) {
		t.Parallel()

		page := pagination.Page{Number: 1, Limit: 20}
		first, err := d.List(ctx, Requester{ID: "U1", Role: "user"}, page)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		second, err := d.List(ctx, Requester{ID: "U1", Role: "user"}, page)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if first.Items[0].Message != "user 24" {
			t.Errorf("先頭 = %q, want %q", first.Items[0].Message, "user 24")
		}
		if !slices.EqualFunc(first.Items, second.Items, func(a, b Item) bool { return a.ID == b.ID }) {
			t.Error("2回の取得で順序が異なる")
		}
		for i := 1; i < len(first.Items); i++ {
			if first.Items[i].CreatedAt.After(first.Items[i-1].CreatedAt) {
				t.Fatalf("新しい順になっていない: %d", i)
			}
		}
	})

	t.Run("管理者には管理者向けメッセージを持つ通知だけを返すこと", func(t *testing.T) {
		t.Parallel()

		got, err := d.List(ctx, Requester{ID: "A1", Role: "admin"}, pagination.Page{Number: 1, Limit: 100})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if got.Total != 25 {
			t.Errorf("Total = %d, want 25", got.Total)
		}
		for _, it := range got.Items {
			if it.Message == "" || it.Message == "role changed" {
				t.Errorf("管理者向けでない通知が含まれる: %+v", it)
			}
		}
	})

	t.Run("利用者には本人宛てだけを返すこと", func(t *testing.T) {
		t.Parallel()

		got, err := d.List(ctx, Requester{ID: "U2", Role: "user"}, pagination.Page{Number: 1, Limit: 20})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(got.Items) != 1 || got.Items[0].Message != "role changed" {
			t.Errorf("Items = %+v", got.Items)
		}
	})

	t.Run("該当が無い場合は空で総ページ数0になること", func(t *testing.T) {
		t.Parallel()

		got, err := d.List(ctx, Requester{ID: "nobody", Role: "user"}, pagination.Page{Number: 1, Limit: 20})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if got.Items == nil || len(got.Items) != 0 || got.TotalPages != 0 || got.Total != 0 {
			t.Errorf("got = %+v", got)
		}
	})
}

func TestDispatcherWithHub(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	seedUser(t, s, "A1", "admin")
	seedUser(t, s, "U1", "user")
	hub := realtime.NewHub(quietLogger())
	d := NewDispatcher(s, hub, quietLogger())

	userCh, unsubUser := hub.Subscribe(realtime.Topic("U1"))
	defer unsubUser()
	adminCh, unsubAdmin := hub.Subscribe(realtime.Topic("A1"))
	defer unsubAdmin()

	if _, err := d.NotifyUser(ctx, "U1", "for user", "for admin"); err != nil {
		t.Fatalf("NotifyUser()でエラーが発生: %v", err)
	}

	for name, ch := range map[string]<-chan event.Event{"for user": userCh, "for admin": adminCh} {
		select {
		case ev := <-ch:
			data, err := event.DecodeData[event.NotificationData](&ev)
			if err != nil {
				t.Fatalf("DecodeData()でエラーが発生: %v", err)
			}
			if data.Message != name {
				t.Errorf("Message = %q, want %q", data.Message, name)
			}
		case <-time.After(time.Second):
			t.Errorf("%s: イベントを受信できない", name)
		}
	}

	hub.Close()
	if _, err := d.NotifyUser(ctx, "U1", "x", "y"); !errors.Is(err, errno.ErrChannelNotReady) {
		t.Errorf("Close後 err = %v, want ErrChannelNotReady", err)
	}
}
