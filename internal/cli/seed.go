package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/internal/user"
)

func newSeedAdminCmd() *cobra.Command {
	var seed user.AdminSeed

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "スーパー管理者を作成する",
		Long: `スーパー管理者を作成する。フラグを省略した項目は設定ファイルと
環境変数(PMOJI_ADMIN_*)の値を使う。同じメールアドレスの利用者がいる場合は何もしない。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			seed = mergeSeed(seed, user.AdminSeed{
				Name:     cfg.Admin.Name,
				Email:    cfg.Admin.Email,
				Phone:    cfg.Admin.Phone,
				Password: cfg.Admin.Password,
			})
			if seed.Email == "" {
				return errors.New("メールアドレスを --email か admin.email で指定してください")
			}

			st, err := store.Open(cmd.Context(), cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("データベースの初期化に失敗: %w", err)
			}
			defer st.Close()

			created, err := user.SeedAdmin(cmd.Context(), st, seed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "スーパー管理者を作成しました: %s\n", seed.Email)
			} else {
				fmt.Fprintf(out, "既に登録済みです: %s\n", seed.Email)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seed.Name, "name", "", "管理者の名前")
	cmd.Flags().StringVar(&seed.Email, "email", "", "管理者のメールアドレス")
	cmd.Flags().StringVar(&seed.Phone, "phone", "", "管理者の電話番号")
	cmd.Flags().StringVar(&seed.Password, "password", "", "管理者のパスワード")
	return cmd
}

// mergeSeed はフラグの値を優先し、空の項目を設定値で補う。
func mergeSeed(flags, cfg user.AdminSeed) user.AdminSeed {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return user.AdminSeed{
		Name:     pick(flags.Name, cfg.Name),
		Email:    pick(flags.Email, cfg.Email),
		Phone:    pick(flags.Phone, cfg.Phone),
		Password: pick(flags.Password, cfg.Password),
	}
}
