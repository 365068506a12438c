package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/bluexfer/config"
	"github.com/user/bluexfer/logger"
)

func newRunCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var cfgPath string
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			setupLogging(cfg)
			if watch && cfg.PayloadFile == "" {
				return fmt.Errorf("--watch needs --payload")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := startDevice(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.close()

			if watch {
				w := newPayloadWatcher(cfg.PayloadFile, func() {
					if err := d.reloadPayload(ctx); err != nil {
						logger.Warn(d.prefix, "payload reload: %v", err)
					}
				})
				go w.Run(ctx)
			}

			<-ctx.Done()
			logger.Info(d.prefix, "received signal, stopping...")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.bluexfer/config.toml)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-send the payload file to every ready peer when it changes")
	bindNodeFlags(cmd.Flags(), &cfg)
	return cmd
}
