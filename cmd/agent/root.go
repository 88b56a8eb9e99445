/*
 * @date: 2026.10.19
 * @description: Cobra Root Command 定义
 */

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mmcagent/internal/config"
	"mmcagent/internal/pkg/logger"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mmcagent",
	Short: "遥测心跳客户端",
	Long: `mmcagent 向遥测收集端注册客户端身份，并按固定间隔上报心跳。

示例:
  1.启动心跳
	mmcagent run --config configs/config.yaml
  2.查看本地身份与主机信息
	mmcagent status
  3.清除身份，下个周期重新注册
	mmcagent reset
  4.启动本地模拟收集端
	mmcagent collector --listen :10058
`,
	SilenceUsage: true,
	// PersistentPreRun: 全局初始化逻辑，确保所有子命令都能使用日志
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initCLILogger()
	},
}

func Execute() {
	// 全局 Panic Recovery
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] mmcagent crashed unexpectedly: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认: ./configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
}

// initCLILogger 初始化 CLI 模式下的日志，run 命令会按配置文件重新初始化
func initCLILogger() {
	level := "warn"
	if logLevel != "" {
		level = logLevel
	}

	switch level {
	case "debug":
		pterm.EnableDebugMessages()
	case "info":
		pterm.DisableDebugMessages()
	default:
		pterm.DisableDebugMessages()
		pterm.Info = *pterm.Info.WithWriter(io.Discard)
	}

	logConfig := &config.LogConfig{
		Level:  level,
		Format: "text",
		Output: "stderr",
	}
	if _, err := logger.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
	}
}

// loadCLIConfig 加载配置（.env + 配置文件 + 环境变量）
func loadCLIConfig() (*config.Config, error) {
	if err := config.NewEnvLoader().Load(); err != nil {
		return nil, err
	}
	return config.LoadConfig(cfgFile)
}
