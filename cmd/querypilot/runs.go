package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rahul/querypilot/internal/store"
	"github.com/rahul/querypilot/pkg/config"
)

var (
	runsTenant string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List a tenant's most recent runs",
	RunE:  listRuns,
}

func init() {
	runsCmd.Flags().StringVarP(&runsTenant, "tenant", "t", "", "tenant whose runs to list")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	_ = runsCmd.MarkFlagRequired("tenant")
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Recent(cmd.Context(), runsTenant, runsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tATTEMPTS\tROWS\tSTATUS\tQUESTION")
	for _, r := range runs {
		status := "ok"
		switch {
		case r.Failed:
			status = "failed"
		case r.Error != "":
			status = "unanswered"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Attempts, r.RowCount, status, r.Question)
	}
	return w.Flush()
}
