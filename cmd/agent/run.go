package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mmcagent/internal/app/agent"
	"mmcagent/internal/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动心跳任务",
	Long: `启动Agent并按配置的间隔向收集端上报心跳，收到 SIGINT/SIGTERM 后优雅退出。

首次运行时会记录部署时间并向收集端注册身份。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := agent.NewApp(ctx, agent.Options{ConfigPath: cfgFile, LogLevel: logLevel})
	if err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		_ = app.Stop(context.Background())
		return err
	}
	pterm.Success.Printfln("mmcagent running, reporting to %s", app.GetConfig().Telemetry.ServerURL)

	<-ctx.Done()
	logger.Info("Shutting down mmcagent...")

	// 给正在进行的心跳5秒钟时间完成
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return app.Stop(shutdownCtx)
}
