// Package httpclient はpmoji APIを呼び出すクライアントを提供する。
//
// レスポンスの {success, message, data} エンベロープを解釈し、
// 失敗時はHTTPステータスとメッセージを持つ *APIError を返す。
// CLIのヘルスチェックやログインで使用する。
package httpclient
