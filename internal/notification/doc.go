// Package notification は通知の作成・配信と一覧取得を担う。
//
// Dispatcher は宛先を解決して通知を永続化し、その後でリアルタイムチャネルへ
// 配信する。永続化した通知が正であり、配信の失敗は呼び出し元に返さない。
// 一覧は管理者なら管理者向けメッセージを持つ全通知、
// それ以外は本人宛ての通知を新しい順に返す。
package notification
