// Command pmoji はステッカー販売プラットフォームのAPIサーバー。
package main

import (
	"os"

	"github.com/nao1215/pmoji/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
