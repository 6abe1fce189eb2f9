package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/pmoji/pkg/httpclient"
)

// healthStatus は /health のレスポンス。
type healthStatus struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
	Realtime string `json:"realtime"`
}

func newHealthCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "起動中のサーバーの状態を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h healthStatus
			err := httpclient.New(url, timeout).GetJSON(cmd.Context(), "/health", &h)
			if h.Status != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "status=%s database=%s realtime=%s\n",
					h.Status, h.Database, h.Realtime)
			}
			if err != nil {
				return fmt.Errorf("ヘルスチェックに失敗: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "サーバーのURL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "タイムアウト")
	return cmd
}
