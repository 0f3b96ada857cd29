// Command taskctl is the operator CLI for taskd: it inspects participants
// and work lists, drives claims and completions, issues actor tokens and
// applies database migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/linkflow/humantask/internal/rpc"
	"github.com/linkflow/humantask/internal/version"
	"github.com/linkflow/humantask/pkg/client"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	server     string
	grpcAddr   string
	token      string
	actor      string
	output     string
	configPath string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "taskctl - operate the human-task participant service",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("TASKCTL_SERVER", "http://localhost:8080"), "taskd HTTP base URL")
	flags.StringVar(&opts.grpcAddr, "grpc-addr", os.Getenv("TASKCTL_GRPC_ADDR"), "taskd gRPC address; when set, supported commands use gRPC")
	flags.StringVar(&opts.token, "token", os.Getenv("TASKCTL_TOKEN"), "bearer token")
	flags.StringVar(&opts.actor, "actor", os.Getenv("TASKCTL_ACTOR"), "acting actor id, sent when the server does not verify tokens")
	flags.StringVarP(&opts.output, "output", "o", formatTable, "output format (table, json, yaml)")
	flags.StringVar(&opts.configPath, "config", os.Getenv("HUMANTASK_CONFIG"), "taskd config file, for token and migrate")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(participantsCmd(opts))
	rootCmd.AddCommand(actorsCmd(opts))
	rootCmd.AddCommand(tasksCmd(opts))
	rootCmd.AddCommand(instancesCmd(opts))
	rootCmd.AddCommand(endedCmd(opts))
	rootCmd.AddCommand(openWorkCmd(opts))
	rootCmd.AddCommand(historyCmd(opts))
	rootCmd.AddCommand(claimCmd(opts))
	rootCmd.AddCommand(completeCmd(opts))
	rootCmd.AddCommand(groupsCmd(opts))
	rootCmd.AddCommand(varsCmd(opts))
	rootCmd.AddCommand(tokenCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))

	return rootCmd
}

// api is the subset of operations taskctl can send over either transport.
type api interface {
	TaskParticipants(ctx context.Context, taskID, channel string) ([]string, error)
	ClaimTask(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID string) error
	PropagateVariables(ctx context.Context, instanceID string, vars map[string]any) (int, error)
	InstanceEnded(ctx context.Context, instanceID string) (bool, error)
}

func (o *options) httpClient() *client.Client {
	return client.New(client.Config{
		BaseURL: o.server,
		Token:   o.token,
		ActorID: o.actor,
		Timeout: o.timeout,
	})
}

// api returns the gRPC client when --grpc-addr is set, the HTTP client
// otherwise. The returned func closes the connection.
func (o *options) api() (api, func(), error) {
	if o.grpcAddr == "" {
		return o.httpClient(), func() {}, nil
	}

	conn, err := grpc.NewClient(o.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", o.grpcAddr, err)
	}

	var copts []rpc.ClientOption
	if o.token != "" {
		copts = append(copts, rpc.WithToken(o.token))
	}
	if o.actor != "" {
		copts = append(copts, rpc.WithActor(o.actor))
	}
	return grpcAPI{rpc.NewClient(conn, copts...)}, func() { _ = conn.Close() }, nil
}

// grpcAPI renames the rpc client methods to match the HTTP client.
type grpcAPI struct {
	*rpc.Client
}

func (g grpcAPI) TaskParticipants(ctx context.Context, taskID, channel string) ([]string, error) {
	return g.ResolveTask(ctx, taskID, channel)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
