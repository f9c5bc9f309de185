package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// buildJournalCmd creates the "journal" command group, a thin client over
// a running daemon's GET chat/actions endpoint.
func buildJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the action journal of a running daemon",
	}
	cmd.AddCommand(buildJournalListCmd())
	return cmd
}

func buildJournalListCmd() *cobra.Command {
	var (
		addr     string
		runID    string
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent action records",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(addr)
			path := fmt.Sprintf("/chat/actions?limit=%d", limit)
			if runID != "" {
				path += "&runId=" + runID
			}
			if category != "" {
				path += "&category=" + category
			}

			var resp struct {
				Actions []*chatmodel.ActionRecord `json:"actions"`
			}
			if err := client.getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Actions) == 0 {
				fmt.Fprintln(out, "No action records.")
				return nil
			}
			for _, rec := range resp.Actions {
				status := "open"
				if rec.EndedAt != nil {
					status = "done"
					if rec.Error != "" {
						status = "error"
					}
				}
				fmt.Fprintf(out, "#%d  run=%s  tool=%s  category=%s  approval=%s  %s\n",
					rec.ID, rec.RunID, rec.Tool, rec.Category, rec.Approval, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Base URL of a running chatengined")
	cmd.Flags().StringVar(&runID, "run", "", "Filter by run id")
	cmd.Flags().StringVar(&category, "category", "", "Filter by tool category")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to show")
	return cmd
}
