package store

import (
	"errors"

	"github.com/nao1215/pmoji/pkg/errno"
)

// AsErrno は永続化層のエラーをAPIのエラー分類に変換する。
// notFound / conflict はクライアントに返すメッセージで、空なら分類の既定メッセージになる。
func AsErrno(err error, notFound, conflict string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return errno.Wrap(errno.ErrNotFound, notFound, err)
	case errors.Is(err, ErrConflict):
		return errno.Wrap(errno.ErrConflict, conflict, err)
	default:
		var e *errno.Errno
		if errors.As(err, &e) {
			return err
		}
		return errno.Wrap(errno.ErrInternal, "", err)
	}
}
