package pagination

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFromQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
	}{
		{name: "指定なしはデフォルト", query: "", wantPage: 1, wantLimit: 20},
		{name: "正の整数はそのまま使う", query: "?page=3&limit=5", wantPage: 3, wantLimit: 5},
		{name: "数値でない値はデフォルト", query: "?page=abc&limit=xyz", wantPage: 1, wantLimit: 20},
		{name: "0以下の値はデフォルト", query: "?page=0&limit=-4", wantPage: 1, wantLimit: 20},
		{name: "上限を超える値は丸める", query: "?page=461168601842738791&limit=5000", wantPage: MaxNumber, wantLimit: MaxLimit},
		{name: "intに収まらない値はデフォルト", query: "?page=99999999999999999999", wantPage: 1, wantLimit: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)

			p := FromQuery(c, 20)
			if p.Number != tt.wantPage {
				t.Errorf("Number = %d, want %d", p.Number, tt.wantPage)
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
		})
	}
}

func TestPageOffset(t *testing.T) {
	t.Parallel()

	if got := (Page{Number: 2, Limit: 20}).Offset(); got != 20 {
		t.Errorf("Offset() = %d, want 20", got)
	}
	if got := (Page{Number: 1, Limit: 10}).Offset(); got != 0 {
		t.Errorf("Offset() = %d, want 0", got)
	}
	if got := (Page{Number: math.MaxInt, Limit: 10}).Offset(); got != math.MaxInt {
		t.Errorf("Offset() = %d, want math.MaxInt", got)
	}
	if got := (Page{Number: MaxNumber, Limit: MaxLimit}).Offset(); got < 0 {
		t.Errorf("Offset() = %d, want >= 0", got)
	}
}

func TestTotalPages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total int64
		limit int
		want  int
	}{
		{total: 0, limit: 20, want: 0},
		{total: 20, limit: 20, want: 1},
		{total: 25, limit: 20, want: 2},
		{total: 1, limit: 5, want: 1},
		{total: 10, limit: 0, want: 0},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.total, tt.limit); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.limit, got, tt.want)
		}
	}
}
