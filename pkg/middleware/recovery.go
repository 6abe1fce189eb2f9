package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/response"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時に内容をログに出力し、500エラーを返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"component": "panic",
					"method":    c.Request.Method,
					"path":      c.Request.URL.Path,
					"panic":     r,
				}).Error("ハンドラでパニックが発生")
				response.Abort(c, errno.ErrInternal)
			}
		}()
		c.Next()
	}
}
