package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linkflow/humantask/pkg/client"
)

func participantsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "Resolve the actors eligible for a task or an instance's open tasks",
	}

	var channel string

	taskCmd := &cobra.Command{
		Use:   "task [task-id]",
		Short: "Resolve the actors of one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := opts.api()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			actors, err := a.TaskParticipants(ctx, args[0], channel)
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), opts.output, "actor", actors)
		},
	}
	taskCmd.Flags().StringVarP(&channel, "channel", "c", "", "assignee, candidate_user, candidate_group or merged (default)")

	instanceCmd := &cobra.Command{
		Use:   "instance [instance-id]",
		Short: "Resolve the actors of every open task of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			byTask, err := opts.httpClient().InstanceParticipants(ctx, args[0], channel)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(byTask))
			for id := range byTask {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			return render(cmd.OutOrStdout(), opts.output, byTask, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "TASK\tACTORS")
				for _, id := range ids {
					fmt.Fprintf(tw, "%s\t%s\n", id, orDash(strings.Join(byTask[id], ",")))
				}
			})
		},
	}
	instanceCmd.Flags().StringVarP(&channel, "channel", "c", "", "assignee, candidate_user, candidate_group or merged (default)")

	cmd.AddCommand(taskCmd, instanceCmd)
	return cmd
}

func actorsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actors [instance-id]",
		Short: "List the distinct actors across an instance's open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			actors, err := opts.httpClient().InstanceActors(ctx, args[0], channel)
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), opts.output, "actor", actors)
		},
	}
	cmd.Flags().StringP("channel", "c", "", "assignee, candidate_user, candidate_group or merged (default)")
	return cmd
}

func tasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [actor-id]",
		Short: "List an actor's open tasks, or an instance's with --instance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			instanceID, _ := cmd.Flags().GetString("instance")

			actorID := opts.actor
			if len(args) == 1 {
				actorID = args[0]
			}
			if actorID == "" {
				return errors.New("actor id required: pass it as an argument or set --actor")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			c := opts.httpClient()
			if instanceID != "" {
				ids, err := c.InstanceTaskIDs(ctx, instanceID, actorID, channel)
				if err != nil {
					return err
				}
				return renderList(cmd.OutOrStdout(), opts.output, "task", ids)
			}

			tasks, err := c.ActorTasks(ctx, actorID, channel)
			if err != nil {
				return err
			}
			if tasks == nil {
				tasks = []client.Task{}
			}
			return render(cmd.OutOrStdout(), opts.output, tasks, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tINSTANCE\tNAME\tASSIGNEE\tCREATED")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						t.ID, t.InstanceID, orDash(t.Name), orDash(t.Assignee),
						t.CreatedAt.Format("2006-01-02 15:04"))
				}
			})
		},
	}
	cmd.Flags().StringP("channel", "c", "", "assignee, candidate_user, candidate_group or empty for all")
	cmd.Flags().String("instance", "", "only list task ids of this instance")
	return cmd
}

func instancesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances [actor-id]",
		Short: "List the instances where an actor has open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			ids, err := opts.httpClient().ActorInstances(ctx, args[0], channel)
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), opts.output, "instance", ids)
		},
	}
	cmd.Flags().StringP("channel", "c", "", "assignee, candidate_user, candidate_group or empty for all")
	return cmd
}

func endedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ended [instance-id]",
		Short: "Report whether an instance has ended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := opts.api()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			ended, err := a.InstanceEnded(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"instance_id": args[0], "ended": ended}
			return render(cmd.OutOrStdout(), opts.output, out, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "INSTANCE\tENDED")
				fmt.Fprintf(tw, "%s\t%t\n", args[0], ended)
			})
		},
	}
}

func openWorkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "open-work [actor-id]",
		Short: "Report whether an actor is eligible for any open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			ok, err := opts.httpClient().HasOpenWork(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"actor_id": args[0], "has_open_work": ok}
			return render(cmd.OutOrStdout(), opts.output, out, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ACTOR\tOPEN WORK")
				fmt.Fprintf(tw, "%s\t%t\n", args[0], ok)
			})
		},
	}
}

func historyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [actor-id]",
		Short: "List the instances where an actor completed tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			ids, err := opts.httpClient().History(ctx, args[0], channel)
			if err != nil {
				return err
			}
			return renderList(cmd.OutOrStdout(), opts.output, "instance", ids)
		},
	}
	cmd.Flags().StringP("channel", "c", client.ChannelAssignee, "assignee, candidate_user or candidate_group")
	return cmd
}
