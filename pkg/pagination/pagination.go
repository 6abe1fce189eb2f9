// Package pagination はクエリパラメータ page / limit の解釈を共通化する。
package pagination

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// MaxNumber はページ番号の上限。大きな値はここに丸める。
	MaxNumber = 1_000_000
	// MaxLimit はページサイズの上限。
	MaxLimit = 100
)

// Page は1始まりのページ番号とページサイズの組。
type Page struct {
	// Number は1始まりのページ番号。
	Number int
	// Limit は1ページあたりの件数。
	Limit int
}

// Offset はSQLのOFFSETに渡す値を返す。桁あふれする組み合わせではmath.MaxIntを返す。
func (p Page) Offset() int {
	if p.Number <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Limit
}

// FromQuery は page と limit を読み取る。
// 数値でない値や0以下の値はデフォルト（page=1, limit=defaultLimit）に置き換え、
// 上限を超える値はMaxNumber / MaxLimitに丸める。
func FromQuery(c *gin.Context, defaultLimit int) Page {
	return Page{
		Number: min(positiveOr(c.Query("page"), 1), MaxNumber),
		Limit:  min(positiveOr(c.Query("limit"), defaultLimit), MaxLimit),
	}
}

// TotalPages は ceil(total / limit) を返す。
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

func positiveOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
