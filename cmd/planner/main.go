package main

// ============================================================================
// Line Planner 入口點
// 所有邏輯在 internal/cli，這裡只負責 panic recovery 與結束碼
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/line-planner/internal/cli"
)

var version = "dev" // 由 -ldflags "-X main.version=..." 注入

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(2)
		}
	}()

	rootCmd := cli.BuildCLI()
	if version != "dev" {
		rootCmd.Version = version
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
