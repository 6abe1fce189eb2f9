// Package store はSQLiteへの永続化を担う。
//
// Queries はsqlcが生成するコードと同じ形で、*sql.DB と *sql.Tx の
// どちらに対しても実行できる。複数テーブルにまたがる書き込みは
// Store のトランザクションヘルパーを通して行う。
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/pmoji/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MemoryPath はインメモリデータベースを表すパス。
const MemoryPath = ":memory:"

// timeLayout はTEXT列に保存する日時の形式。固定長なので文字列比較で時系列順になる。
const timeLayout = "2006-01-02T15:04:05.000000Z"

// dateLayout は日付のみの列（payments.date）の形式。
const dateLayout = "2006-01-02"

var (
	// ErrNotFound は該当する行が存在しないことを表す。
	ErrNotFound = errors.New("store: not found")
	// ErrConflict は一意制約違反を表す。
	ErrConflict = errors.New("store: conflict")
)

// sqlitePragmas は接続ごとに適用するPRAGMA。
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// DBTX は *sql.DB と *sql.Tx の共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries はテーブル単位のクエリを提供する。
type Queries struct {
	db  DBTX
	now func() time.Time
}

// New はQueriesを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db, now: time.Now}
}

// WithTx はトランザクションに束縛したQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, now: q.now}
}

// Store はQueriesとトランザクションを扱えるデータベース接続をまとめたもの。
type Store struct {
	*Queries
	db *sql.DB
}

// Open はSQLiteを開き、スキーマを最新まで適用する。
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if path == MemoryPath {
		// インメモリDBは接続ごとに別のデータベースになる
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &Store{Queries: New(db), db: db}, nil
}

func dsn(path string) string {
	var b strings.Builder
	if path == MemoryPath {
		b.WriteString(path)
	} else {
		b.WriteString("file:")
		b.WriteString(path)
	}
	for i, p := range sqlitePragmas {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// DB は内部の接続を返す。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx はfnをトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(s.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// SetClock は現在時刻の取得元を差し替える。テスト用。
func (s *Store) SetClock(now func() time.Time) {
	s.Queries.now = now
}

func (q *Queries) timestamp() string {
	return formatTime(q.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日時の解析に失敗 %q: %w", s, err)
	}
	return t, nil
}

// mapError はドライバーのエラーを ErrNotFound / ErrConflict に寄せる。
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"),
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

// escapeLike はLIKE検索用に % _ \ をエスケープする。ESCAPE '\' と組み合わせて使う。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// placeholders は n 個の ? をカンマで連結する。
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// dayRange は YYYY-MM-DD の日付をその日の [開始, 翌日開始) に変換する。
func dayRange(date string) (string, string, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", "", fmt.Errorf("日付の形式が不正です %q: %w", date, err)
	}
	return formatTime(d), formatTime(d.AddDate(0, 0, 1)), nil
}
