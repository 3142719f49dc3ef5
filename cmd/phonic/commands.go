package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-phonic/internal/log"
	"github.com/teslashibe/go-phonic/pkg/pipeline"
	"github.com/teslashibe/go-phonic/pkg/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			uploads, err := a.UploadDir()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}

			srv := web.NewServer(a.Pipeline, web.Config{
				Addr:      addr,
				UploadDir: uploads,
				AccessLog: a.Config.Server.AccessLog,
			}, log.L())
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "process <audio>",
		Short: "Run one coaching turn on an audio file and print the feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if session == "" {
				session = uuid.NewString()
			}
			fb, err := a.Pipeline.Process(cmd.Context(), args[0], session)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fb)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id (default: a new uuid)")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session>",
		Short: "Print a session's conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			turns, err := a.Pipeline.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"session_id":         args[0],
				"conversation_count": len(turns),
				"history":            turns,
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session>",
		Short: "Delete a session's history and audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			existed, err := a.Pipeline.Clear(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if existed {
				fmt.Fprintf(cmd.OutOrStdout(), "cleared session %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "no history for session %s\n", args[0])
			}
			return nil
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every backend and exit non-zero when degraded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			h := a.Pipeline.Health(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if h.Status != pipeline.StatusOperational {
				return errors.New("service degraded")
			}
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			data, err := cfg.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
