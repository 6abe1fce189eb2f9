// Package migration はSQLiteスキーマのバージョン管理を行う。
//
// fs.FS 上の NNNNNN_name.up.sql を番号順に適用し、
// schema_migrations テーブルに適用済みバージョンを記録する。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const upSuffix = ".up.sql"

// Step はスキーマ変更1件分のファイル。
type Step struct {
	// Version はファイル名先頭の通し番号。
	Version int
	// Name はファイル名の説明部分。
	Name string
	path string
}

// Run は未適用のステップを番号順に適用し、適用したバージョンを返す。
// 各ステップはバージョン記録と同じトランザクションで実行される。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) ([]int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`); err != nil {
		return nil, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	steps, err := Collect(fsys, dir)
	if err != nil {
		return nil, err
	}

	var done []int
	for _, s := range steps {
		if _, ok := applied[s.Version]; ok {
			continue
		}
		if err := apply(ctx, db, fsys, s); err != nil {
			return done, fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", s.Version, s.Name, err)
		}
		logrus.WithFields(logrus.Fields{
			"component": "migration",
			"version":   s.Version,
			"name":      s.Name,
		}).Info("マイグレーションを適用しました")
		done = append(done, s.Version)
	}
	return done, nil
}

// AppliedVersions は適用済みバージョンの集合を返す。
func AppliedVersions(ctx context.Context, db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = struct{}{}
	}
	return applied, rows.Err()
}

// Collect はdir直下のup.sqlファイルを番号順に並べて返す。
// 番号の重複はエラーとする。命名規則に合わないファイルは無視する。
func Collect(fsys fs.FS, dir string) ([]Step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションディレクトリの読み込みに失敗: %w", err)
	}

	seen := make(map[int]string)
	var steps []Step
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}
		num, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("バージョン %06d が重複しています: %s, %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		steps = append(steps, Step{
			Version: version,
			Name:    strings.TrimSuffix(rest, upSuffix),
			path:    path.Join(dir, entry.Name()),
		})
	}

	slices.SortFunc(steps, func(a, b Step) int { return cmp.Compare(a.Version, b.Version) })
	return steps, nil
}

func apply(ctx context.Context, db *sql.DB, fsys fs.FS, s Step) error {
	content, err := fs.ReadFile(fsys, s.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", s.Version, s.Name); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
