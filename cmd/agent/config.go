package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mmcagent/internal/config"
)

var (
	configOutput string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置文件管理",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "生成默认配置文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configOutput); err == nil && !configForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", configOutput)
		}
		if err := config.SaveConfig(config.DefaultConfig(), configOutput); err != nil {
			return err
		}
		pterm.Success.Printfln("Default config written to %s", configOutput)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configOutput, "output", "o", "configs/config.yaml", "输出路径")
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "覆盖已存在的文件")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
