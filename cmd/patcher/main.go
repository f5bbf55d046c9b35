package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configAppName = "patcher"
	configExt     = "env"
)

var (
	configDir  string
	outputJSON bool
)

// errDegraded marks a run that finished with files left to repair.
var errDegraded = errors.New("some files could not be updated")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errDegraded) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "patcher",
		Short:         "Keep a game installation in sync with its patch host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configDir, "config", "config", "Directory holding patcher.env")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output the final report as JSON")

	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newBootstrapCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// newLogger logs to stderr so stdout stays free for progress and reports.
func newLogger(logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logFile)
	}
	return cfg.Build()
}
