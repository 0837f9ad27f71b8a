package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiernet/internal/app"
	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/provider"
)

var rootCmd = &cobra.Command{
	Use:           "mlmctl",
	Short:         "Tiernet operator tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withContainer 加载配置并构建容器后执行 fn
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *provider.Container) error) error {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	c, err := provider.NewContainer(cfg, db)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cmd.Context(), c)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
