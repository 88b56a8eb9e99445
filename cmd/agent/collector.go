package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mmcagent/internal/app/collector"
)

var listenAddr string

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "启动本地模拟收集端",
	Long: `启动实现 /stat/reg_client 与 /stat/client_heartbeat 的本地收集端，用于开发调试。

示例:
  mmcagent collector --listen 127.0.0.1:10058
  curl http://127.0.0.1:10058/stat/clients`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenAddr == "" {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			listenAddr = cfg.Collector.Listen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := collector.NewServer(listenAddr)
		if err := srv.Start(); err != nil {
			return err
		}
		pterm.Success.Printfln("Collector listening on %s", srv.Addr())

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

func init() {
	collectorCmd.Flags().StringVar(&listenAddr, "listen", "", "监听地址 (默认使用 collector.listen)")
	rootCmd.AddCommand(collectorCmd)
}
