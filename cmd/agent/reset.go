package main

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mmcagent/internal/pkg/storage"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "清除本地保存的客户端身份",
	Long:  "删除本地存储中的 mmc_uuid，运行中的Agent会在身份被收集端拒绝后重新注册，重启后的Agent会立即重新注册。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCLIConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		store, err := storage.New(cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		has, err := store.Has(ctx, storage.KeyClientUUID)
		if err != nil {
			return err
		}
		if !has {
			pterm.Info.Println("No client identity stored")
			return nil
		}

		if err := store.Delete(ctx, storage.KeyClientUUID); err != nil {
			return err
		}
		pterm.Success.Println("Client identity removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
