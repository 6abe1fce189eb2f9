// Package logger はlogrusの標準ロガーを設定する。
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Setup は標準ロガーのレベルと出力形式を設定する。
// format が "auto" の場合、出力先が端末ならテキスト、それ以外はJSONを使う。
func Setup(level, format string) error {
	return Configure(logrus.StandardLogger(), os.Stdout, level, format)
}

// Configure は任意のロガーに出力先・レベル・形式を設定する。
func Configure(l *logrus.Logger, out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("ログレベルが不正です: %w", err)
	}

	l.SetOutput(out)
	l.SetLevel(lvl)

	switch format {
	case "json":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "auto", "":
		if isTerminal(out) {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			l.SetFormatter(jsonFormatter())
		}
	default:
		return fmt.Errorf("ログ形式が不正です: %q", format)
	}
	return nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "msg",
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
