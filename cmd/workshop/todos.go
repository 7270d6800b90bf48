package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/live"
	"github.com/spf13/cobra"
)

var todosCmd = &cobra.Command{
	Use:   "todos",
	Short: "List and edit todos, waiting for each write to replicate",
}

var todosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List todos",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTodos(cmd, func(ctx context.Context, todos *live.Todos) error {
			view, err := todos.View()
			if err != nil {
				return err
			}
			for _, t := range view {
				mark := " "
				if t.Completed {
					mark = "x"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %d %s\n", mark, t.ID, t.Text)
			}
			return nil
		})
	},
}

var todosAddCmd = &cobra.Command{
	Use:   "add TEXT...",
	Short: "Add a todo",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTodos(cmd, func(ctx context.Context, todos *live.Todos) error {
			todo, err := todos.Add(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d\n", todo.ID)
			return nil
		})
	},
}

var todosDoneCmd = &cobra.Command{
	Use:   "done ID",
	Short: "Mark a todo as completed (needs --user-id)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid todo id %q", args[0])
		}

		return withTodos(cmd, func(ctx context.Context, todos *live.Todos) error {
			view, err := todos.View()
			if err != nil {
				return err
			}
			for _, t := range view {
				if t.ID == id {
					return todos.SetCompleted(ctx, t, true)
				}
			}
			return fmt.Errorf("todo %d: %w", id, workshop.ErrNotFound)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{todosListCmd, todosAddCmd, todosDoneCmd} {
		addRemoteFlags(cmd)
		todosCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(todosCmd)
}

func withTodos(cmd *cobra.Command, fn func(ctx context.Context, todos *live.Todos) error) error {
	r, err := newRemote()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stream, err := r.follow(ctx, workshop.TableTodos)
	if err != nil {
		return err
	}
	return fn(ctx, live.NewTodos(r.client, stream, r.coordinator))
}
