// ABOUTME: Entry point for the sql-relay agent
// ABOUTME: Cobra commands run (connect and serve queries) and id (print the stable agent id)

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/sql-relay/internal/agentclient"
	"github.com/2389/sql-relay/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

type options struct {
	statePath    string
	relayAddr    string
	name         string
	retryDelay   time.Duration
	heartbeat    time.Duration
	pageSize     int
	queryTimeout time.Duration
	logLevel     string
	logFormat    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "sql-relay-agent",
		Short:         "Run SQL on behalf of a sql-relay server",
		Long:          "sql-relay-agent connects outbound to a sql-relay server, runs the queries it is configured with against a local database and pushes the results back.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.statePath, "state", envOr("SQL_RELAY_AGENT_STATE", config.DefaultAgentStatePath()), "agent state file (TOML)")

	root.AddCommand(newRunCmd(opts), newIDCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the relay and serve commands until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.relayAddr, "relay", envOr("SQL_RELAY_ADDR", "localhost:50051"), "relay gRPC address")
	f.StringVar(&opts.name, "name", "", "primary name (defaults to hostname)")
	f.DurationVar(&opts.retryDelay, "reconnect-delay", agentclient.DefaultRetryDelay, "delay between reconnect attempts")
	f.DurationVar(&opts.heartbeat, "heartbeat", agentclient.DefaultHeartbeatInterval, "heartbeat interval")
	f.IntVar(&opts.pageSize, "page-size", agentclient.DefaultPageSize, "rows per streamed batch")
	f.DurationVar(&opts.queryTimeout, "query-timeout", agentclient.DefaultQueryTimeout, "per-query timeout")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	return cmd
}

func newIDCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the agent id, generating and saving one if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := config.LoadAgentState(opts.statePath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state.AgentID)
			return nil
		},
	}
}

func runAgent(ctx context.Context, opts *options, logOut io.Writer) error {
	logger := newLogger(opts.logLevel, opts.logFormat, logOut)

	state, err := config.LoadAgentState(opts.statePath)
	if err != nil {
		return fmt.Errorf("loading agent state: %w", err)
	}

	logger.Info("starting sql-relay-agent",
		"version", version,
		"agent_id", state.AgentID,
		"relay", opts.relayAddr,
		"state", opts.statePath,
		"connections", len(state.Connections),
	)

	executor := agentclient.NewExecutor(logger,
		agentclient.WithStreamPageSize(opts.pageSize),
		agentclient.WithQueryTimeout(opts.queryTimeout),
	)
	client := agentclient.New(opts.relayAddr, opts.statePath, state, logger,
		agentclient.WithExecutor(executor),
		agentclient.WithRetryPolicy(agentclient.FixedDelay(opts.retryDelay)),
		agentclient.WithHeartbeatInterval(opts.heartbeat),
		agentclient.WithPrimaryName(opts.name),
	)
	return client.Run(ctx)
}

func newLogger(level, format string, out io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, hopts))
	}
	return slog.New(slog.NewTextHandler(out, hopts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
