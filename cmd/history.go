package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/data-mapper/internal/model"
	"github.com/sells-group/data-mapper/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the job history",
	Long:  "Commands for listing jobs and viewing their state transitions.",
}

// -- history list --

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			State: model.JobState(state),
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "history list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No jobs found.")
			return nil
		}

		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

// -- history show --

var historyShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job and its state transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		j, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}
		events, err := st.ListEvents(ctx, j.ID)
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Job
			Events []store.JobEvent `json:"events"`
		}{j, events})
	},
}

func init() {
	historyListCmd.Flags().String("state", "", "filter by state (running, completed, cancelled, saved_and_quit, fatal, ...)")
	historyListCmd.Flags().Int("limit", 20, "max number of jobs to display")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory(cmd *cobra.Command) (store.Store, error) {
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("job history is disabled (store.database_url is empty)")
	}
	return st, nil
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINPUT\tSTATE\tPROGRESS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t--------\t-------\t--------")

	for _, j := range jobs {
		input := j.InputPath
		if input == "" {
			input = "-"
		}
		if len(input) > 30 {
			input = "..." + input[len(input)-27:]
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(j.ID),
			input,
			j.State,
			j.Cursor,
			j.Total,
			j.CreatedAt.Format("2006-01-02 15:04"),
			j.UpdatedAt.Sub(j.CreatedAt).Round(time.Second),
		)
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
