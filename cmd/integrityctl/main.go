// Command integrityctl drives imports, training and registry maintenance
// against the configured store without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/qrlbk/IntegrityOS/internal/app"
	"github.com/qrlbk/IntegrityOS/pkg/config"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:           "integrityctl",
		Short:         "Asset integrity registry tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr at debug level")

	rootCmd.AddCommand(importCommand())
	rootCmd.AddCommand(trainCommand())
	rootCmd.AddCommand(classifyCommand())
	rootCmd.AddCommand(routesCommand())
	rootCmd.AddCommand(assetsCommand())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withService loads configuration, opens the store and hands the assembled
// service to fn.
func withService(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	if err := logger.Init(level, "console", "stderr"); err != nil {
		return err
	}
	defer logger.Sync()

	service, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer service.Close()

	return fn(service)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
