package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scan and reconcile run history",
	Long:  "Commands for listing, viewing, and summarizing job runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Kind: model.RunKind(kind), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		run := findRun(runs, args[0])
		if run == nil {
			return eris.Errorf("runs show: run %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		// high limit for stats
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		var after time.Time
		if since > 0 {
			after = time.Now().Add(-since)
		}
		formatRunStats(os.Stdout, computeRunStats(runs, after))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("kind", "", "filter by job kind (scan, reconcile)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// findRun matches a full id or the 8-character prefix shown by runs list.
func findRun(runs []model.Run, id string) *model.Run {
	for i := range runs {
		if runs[i].ID == id || (len(id) >= 8 && truncateID(runs[i].ID) == id) {
			return &runs[i]
		}
	}
	return nil
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Scans      int
	Reconciles int
	Failed     int
	Messages   int
	Staged     int
	Statuses   map[model.ContactStatus]int
	AvgDurSecs float64
}

// computeRunStats aggregates runs started at or after since.
func computeRunStats(runs []model.Run, since time.Time) runStats {
	s := runStats{Statuses: map[model.ContactStatus]int{}}

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		if r.StartedAt.Before(since) {
			continue
		}
		switch r.Kind {
		case model.RunKindScan:
			s.Scans++
			s.Messages += r.Stats.Messages
			s.Staged += r.Stats.Staged
		case model.RunKindReconcile:
			s.Reconciles++
			for status, n := range r.Stats.Statuses {
				s.Statuses[status] += n
			}
		}
		if r.Error != "" {
			s.Failed++
			continue
		}
		totalDur += r.FinishedAt.Sub(r.StartedAt)
		durCount++
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTARTED\tDURATION\tSUMMARY\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t--------\t-------\t-----")

	for _, r := range runs {
		dur := r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Kind,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			runSummary(r),
			errMsg,
		)
	}
	_ = w.Flush()
}

func runSummary(r model.Run) string {
	if r.Kind == model.RunKindScan {
		return fmt.Sprintf("%d msgs, %d staged", r.Stats.Messages, r.Stats.Staged)
	}
	return fmt.Sprintf("%d contacts, %d updated", r.Stats.Contacts, r.Stats.Statuses[model.ContactStatusUpdated])
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Scan runs:\t%d\n", s.Scans)
	_, _ = fmt.Fprintf(w, "  Messages:\t%d\n", s.Messages)
	_, _ = fmt.Fprintf(w, "  Staged:\t%d\n", s.Staged)
	_, _ = fmt.Fprintf(w, "Reconcile runs:\t%d\n", s.Reconciles)
	_, _ = fmt.Fprintf(w, "  Updated:\t%d\n", s.Statuses[model.ContactStatusUpdated])
	_, _ = fmt.Fprintf(w, "  Already a number:\t%d\n", s.Statuses[model.ContactStatusAlreadyANumber])
	_, _ = fmt.Fprintf(w, "  Not found:\t%d\n", s.Statuses[model.ContactStatusNotFound])
	_, _ = fmt.Fprintf(w, "  Error:\t%d\n", s.Statuses[model.ContactStatusError])
	_, _ = fmt.Fprintf(w, "Failed runs:\t%d\n", s.Failed)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
