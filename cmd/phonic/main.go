// Phonic - spoken-language coaching service.
// Transcribes a learner's recording, asks a language model for coaching
// and a conversational reply, and speaks the reply back.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-phonic/internal/app"
	"github.com/teslashibe/go-phonic/internal/config"
	"github.com/teslashibe/go-phonic/internal/log"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "phonic",
		Short:         "Spoken-language coaching: transcribe, coach, reply and speak",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./phonic.yaml or ~/.config/phonic/phonic.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")

	root.AddCommand(
		newServeCmd(opts),
		newProcessCmd(opts),
		newHistoryCmd(opts),
		newClearCmd(opts),
		newHealthCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load reads the configuration and initializes logging.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	log.Init(cfg.Log.Level)
	return cfg, nil
}

// open loads the configuration and builds the application.
func (o *rootOptions) open(ctx context.Context) (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log.L())
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
