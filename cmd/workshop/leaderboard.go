package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/game"
	"github.com/airheartdev/workshop/live"
	"github.com/spf13/cobra"
)

var leaderboardLocal bool

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the checkbox game leaderboard",
	Long: `Print the checkbox game leaderboard of a running server.

With --local the scores are computed here from the checkboxes and users
shapes instead of asking the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRemote()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		var stats game.Stats
		if leaderboardLocal {
			boxes, err := r.follow(ctx, workshop.TableCheckboxes)
			if err != nil {
				return err
			}
			users, err := r.follow(ctx, workshop.TableUsers)
			if err != nil {
				return err
			}
			stats, err = live.NewCheckboxes(r.client, boxes, users, r.coordinator).Stats()
			if err != nil {
				return err
			}
		} else {
			stats, err = r.client.Leaderboard(ctx)
			if err != nil {
				return err
			}
		}

		return printLeaderboard(cmd.OutOrStdout(), stats)
	},
}

func init() {
	addRemoteFlags(leaderboardCmd)
	leaderboardCmd.Flags().BoolVar(&leaderboardLocal, "local", false, "compute scores from the shapes")
	rootCmd.AddCommand(leaderboardCmd)
}

func printLeaderboard(out io.Writer, stats game.Stats) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "RANK\tPLAYER\tSCORE\tGROUPS\n")
	for i, u := range stats.UserStats {
		sizes := make([]int, len(u.Groups))
		for j, g := range u.Groups {
			sizes[j] = g.Size
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%v\n", i+1, u.Name, u.Score, sizes)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d of %d boxes checked\n", stats.TotalChecked, game.Boxes)
	return err
}
