// Package response はAPIのJSONエンベロープを組み立てる。
//
// 成功時は {"success": true, "message": ..., "data": ...}、
// 失敗時は {"success": false, "message": ...} を返す。
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/pkg/errno"
)

// Body は全エンドポイント共通のレスポンス構造。
type Body struct {
	// Success は処理が成功したかどうか。
	Success bool `json:"success"`
	// Message は人間向けの結果メッセージ。
	Message string `json:"message"`
	// Data はエンドポイント固有のペイロード。
	Data any `json:"data,omitempty"`
}

// OK は200で成功レスポンスを返す。
func OK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Body{Success: true, Message: message, Data: data})
}

// Created は201で成功レスポンスを返す。
func Created(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, Body{Success: true, Message: message, Data: data})
}

// Failed はエラーをHTTPステータスに変換して失敗レスポンスを返す。
// 5xx の場合は原因をログに残し、クライアントには汎用メッセージだけを返す。
func Failed(c *gin.Context, err error) {
	status := errno.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"component": "http",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
		}).WithError(err).Error("リクエスト処理に失敗")
	}
	c.JSON(status, Body{Success: false, Message: errno.MessageOf(err)})
}

// Abort はFailedと同じレスポンスを返し、後続のハンドラを中断する。
// ミドルウェアから使用する。
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errno.StatusOf(err), Body{Success: false, Message: errno.MessageOf(err)})
}
