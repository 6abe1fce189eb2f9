// Package cli はpmojiコマンドのサブコマンドを定義する。
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ビルド時に -ldflags で上書きされる。
var (
	version = "dev"
	commit  = "none"
)

// Execute はルートコマンドを実行する。
func Execute() error {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "エラー:", err)
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pmoji",
		Short:         "ステッカー販売プラットフォームのAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "設定ファイル(YAML)のパス")

	cmd.AddCommand(
		newServeCmd(),
		newSeedAdminCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return cmd
}
