package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/recorder"
)

var replayOpts struct {
	DB      string
	Session string
	Policy  string
	JSON    bool
}

var sessionsDB string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := recorder.Open(dbPath(sessionsDB))
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.Sessions()
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run a mapper policy over a recorded session and diff the parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayOpts.Session == "" {
			return fmt.Errorf("--session is required")
		}

		store, err := recorder.Open(dbPath(replayOpts.DB))
		if err != nil {
			return err
		}
		defer store.Close()

		info, err := store.Session(replayOpts.Session)
		if err != nil {
			return err
		}

		name := replayOpts.Policy
		if name == "" {
			name = info.Policy
		}
		p, err := mapper.Lookup(name)
		if err != nil {
			return err
		}
		m, err := mapper.New(p.Apply(info.Mode))
		if err != nil {
			return err
		}

		bar := progressbar.NewOptions(info.Frames,
			progressbar.OptionSetDescription("Replaying "+m.Name()),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		report, err := recorder.Replay(cmd.Context(), store, info.ID, m, func() { bar.Add(1) })
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		if replayOpts.JSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsDB, "db", "", "Recorder SQLite file (default: recorder.path)")

	replayCmd.Flags().StringVar(&replayOpts.DB, "db", "", "Recorder SQLite file (default: recorder.path)")
	replayCmd.Flags().StringVar(&replayOpts.Session, "session", "", "Session id to replay")
	replayCmd.Flags().StringVar(&replayOpts.Policy, "policy", "", "Policy to replay with (default: the recorded one)")
	replayCmd.Flags().BoolVar(&replayOpts.JSON, "json", false, "Print the report as JSON")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(replayCmd)
}

func dbPath(flag string) string {
	if flag != "" {
		return flag
	}
	if cfg != nil && cfg.Recorder.Path != "" {
		return cfg.Recorder.Path
	}
	return "sessions.db"
}

func printSessions(out io.Writer, sessions []recorder.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No recorded sessions.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPOLICY\tMODE\tFRAMES\tSTARTED\tENDED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------\t-----")
	for _, s := range sessions {
		ended := "-"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.Policy, s.Mode, s.Frames,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"), ended)
	}
	w.Flush()
}

func printReport(out io.Writer, r *recorder.Report) {
	fmt.Fprintf(out, "session %s: %d frames, recorded with %s, replayed with %s\n",
		r.SessionID, r.Frames, r.RecordedPolicy, r.ReplayPolicy)
	if r.Identical() {
		fmt.Fprintln(out, "replay is identical to the recording")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PARAMETER\tCHANGED\tMAX ABS\tMEAN ABS\tNOTE")
	for _, p := range r.Params {
		note := ""
		switch {
		case p.Added:
			note = "added"
		case p.Removed:
			note = "removed"
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%.4f\t%.4f\t%s\n", p.ID, p.Changed, p.Frames, p.MaxAbs, p.MeanAbs, note)
	}
	w.Flush()
}
