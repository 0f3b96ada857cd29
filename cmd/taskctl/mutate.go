package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func claimCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "claim [task-id]",
		Short: "Claim a task as --actor (or the token's actor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := opts.api()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if err := a.ClaimTask(ctx, args[0]); err != nil {
				return err
			}
			return renderStatus(cmd, opts, args[0], "claimed")
		},
	}
}

func completeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [task-id]",
		Short: "Complete a task as --actor (or the token's actor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := opts.api()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if err := a.CompleteTask(ctx, args[0]); err != nil {
				return err
			}
			return renderStatus(cmd, opts, args[0], "completed")
		},
	}
}

func groupsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage a task's candidate groups",
	}

	addCmd := &cobra.Command{
		Use:   "add [task-id] [group...]",
		Short: "Append candidate groups to a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if err := opts.httpClient().AddCandidateGroups(ctx, args[0], args[1:]); err != nil {
				return err
			}
			return renderStatus(cmd, opts, args[0], "updated")
		},
	}

	cmd.AddCommand(addCmd)
	return cmd
}

func varsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "vars [instance-id] [name=value...]",
		Short: "Set variables on every open task of an instance",
		Long: `Set variables on every open task of an instance.

Values are parsed as JSON when possible and kept as strings otherwise.

Examples:
  taskctl vars inst-42 approved=true amount=1200
  taskctl vars inst-42 'reviewers=["ann","bo"]' note=urgent`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVars(args[1:])
			if err != nil {
				return err
			}

			a, closeFn, err := opts.api()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			n, err := a.PropagateVariables(ctx, args[0], vars)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(vars))
			for name := range vars {
				names = append(names, name)
			}
			sort.Strings(names)

			out := map[string]any{"instance_id": args[0], "updated": n, "variables": names}
			return render(cmd.OutOrStdout(), opts.output, out, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "INSTANCE\tUPDATED\tVARIABLES")
				fmt.Fprintf(tw, "%s\t%d\t%s\n", args[0], n, strings.Join(names, ","))
			})
		},
	}
}

// parseVars turns name=value pairs into a variable map.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q: want name=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		vars[name] = value
	}
	return vars, nil
}

func renderStatus(cmd *cobra.Command, opts *options, taskID, status string) error {
	out := map[string]string{"task_id": taskID, "status": status}
	return render(cmd.OutOrStdout(), opts.output, out, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "TASK\tSTATUS")
		fmt.Fprintf(tw, "%s\t%s\n", taskID, status)
	})
}
