package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/follow-reconciler/pkg/batch"
	"github.com/Sternrassler/follow-reconciler/pkg/graph"
	"github.com/Sternrassler/follow-reconciler/pkg/session"
	"github.com/Sternrassler/follow-reconciler/pkg/stats"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeUsers(w io.Writer, title string, users []graph.User) {
	fmt.Fprintf(w, "%s (%d):\n", title, len(users))
	for _, u := range users {
		fmt.Fprintf(w, "  %s\n", u.Login)
	}
}

func newSearchCmd(getApp func() *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <username>",
		Short: "List who doesn't follow username back and whom username doesn't follow back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			token, err := a.token()
			if err != nil {
				return err
			}
			s, err := a.newSession()
			if err != nil {
				return err
			}

			result, err := s.Search(cmd.Context(), args[0], token)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, result)
			}
			writeUsers(out, "Not following you back", result.NotFollowingBack)
			writeUsers(out, "You don't follow back", result.NotFollowedBack)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newFollowCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <login>",
		Short: "Follow a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd, getApp(), session.DirectionFollow, args[0])
		},
	}
}

func newUnfollowCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <login>",
		Short: "Unfollow a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd, getApp(), session.DirectionUnfollow, args[0])
		},
	}
}

func runSingle(cmd *cobra.Command, a *app, dir session.Direction, login string) error {
	token, err := a.token()
	if err != nil {
		return err
	}
	s, err := a.newSession()
	if err != nil {
		return err
	}

	var applied bool
	if dir == session.DirectionFollow {
		applied, err = s.Follow(cmd.Context(), login, token)
	} else {
		applied, err = s.Unfollow(cmd.Context(), login, token)
	}
	if err != nil {
		return err
	}

	if !applied {
		return fmt.Errorf("GitHub did not apply %s of %s", dir, login)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", dir, login)
	return nil
}

// newBulkCmd builds follow-all (follow == true) or unfollow-all.
func newBulkCmd(getApp func() *app, follow bool) *cobra.Command {
	var (
		dryRun bool
		asJSON bool
	)

	use, short := "unfollow-all <username>", "Unfollow everyone who doesn't follow username back"
	if follow {
		use, short = "follow-all <username>", "Follow back every follower of username"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short + ". A fresh search runs first; mutations are sent in concurrent waves.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			token, err := a.token()
			if err != nil {
				return err
			}
			s, err := a.newSession()
			if err != nil {
				return err
			}

			result, err := s.Search(cmd.Context(), args[0], token)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				if follow {
					writeUsers(out, "Would follow", result.NotFollowedBack)
				} else {
					writeUsers(out, "Would unfollow", result.NotFollowingBack)
				}
				return nil
			}

			var report batch.Report[graph.User]
			if follow {
				report, err = s.FollowAll(cmd.Context(), token)
			} else {
				report, err = s.UnfollowAll(cmd.Context(), token)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(out, bulkSummary(report))
			}
			writeReport(out, report)
			if report.Stopped != nil {
				return fmt.Errorf("bulk run stopped: %w", report.Stopped)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list the accounts that would be changed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type bulkFailure struct {
	Login string `json:"login"`
	Error string `json:"error"`
}

type bulkResult struct {
	Attempted int           `json:"attempted"`
	Succeeded []string      `json:"succeeded"`
	Failures  []bulkFailure `json:"failures"`
	Waves     int           `json:"waves"`
	Stopped   string        `json:"stopped,omitempty"`
}

func bulkSummary(report batch.Report[graph.User]) bulkResult {
	summary := bulkResult{
		Attempted: report.Attempted,
		Succeeded: graph.Logins(report.Succeeded),
		Failures:  make([]bulkFailure, 0, len(report.Failures)),
		Waves:     report.Waves,
	}
	for _, f := range report.Failures {
		summary.Failures = append(summary.Failures, bulkFailure{Login: f.Item.Login, Error: f.Err.Error()})
	}
	if report.Stopped != nil {
		summary.Stopped = report.Stopped.Error()
	}
	return summary
}

func writeReport(w io.Writer, report batch.Report[graph.User]) {
	fmt.Fprintf(w, "%d attempted in %d waves, %d succeeded, %d failed\n",
		report.Attempted, report.Waves, len(report.Succeeded), len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  %s: %v\n", f.Item.Login, f.Err)
	}
}

func newStatsCmd(getApp func() *app) *cobra.Command {
	var record string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics (visitors, last searched users)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()

			var (
				st  stats.Stats
				err error
			)
			if record != "" {
				st, err = a.recorder.RecordSearch(cmd.Context(), record)
			} else {
				st, err = a.recorder.Get(cmd.Context())
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&record, "record", "", "record a search for this username first")
	return cmd
}
