package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

func newViewEventsCmd(configDir *string) *cobra.Command {
	var category string
	var limit int
	var full, asJSON bool

	cmd := &cobra.Command{
		Use:   "view-events <document-id>",
		Short: "Show the audit trail of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, client, err := setup(ctx, *configDir)
			if err != nil {
				return err
			}
			defer client.Close()

			st := store.New(client.DB)
			evts, err := st.Events.ListByDocument(ctx, args[0], category, limit)
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(evts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCATEGORY\tEVENT\tDETAILS")
			for _, e := range evts {
				details := ""
				if full && e.Details != nil {
					if b, err := json.Marshal(e.Details); err == nil {
						details = string(b)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Category, e.EventType, details)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Filter by event category")
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum events to show")
	cmd.Flags().BoolVar(&full, "full", false, "Include event details")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newViewPromptsCmd(configDir *string) *cobra.Command {
	var promptType string
	var archived bool

	cmd := &cobra.Command{
		Use:   "view-prompts",
		Short: "Show the prompt catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, client, err := setup(ctx, *configDir)
			if err != nil {
				return err
			}
			defer client.Close()

			st := store.New(client.DB)
			prompts, err := st.Prompts.ListByType(ctx, promptType, archived)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tDOC TYPE\tVERSION\tACTIVE\tSCORE\tDOCS\tID")
			for _, p := range prompts {
				score := "-"
				if p.PerformanceScore != nil {
					score = fmt.Sprintf("%.3f", *p.PerformanceScore)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%d\t%s\n",
					p.PromptType, p.DocumentType, p.Version, p.IsActive,
					score, p.DocumentsProcessed, p.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&promptType, "type", "", "Filter by prompt type")
	cmd.Flags().BoolVar(&archived, "archived", false, "Include inactive versions")
	return cmd
}

func newReprocessCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Reset a failed document to pending with a clean retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, client, err := setup(ctx, *configDir)
			if err != nil {
				return err
			}
			defer client.Close()

			st := store.New(client.DB)
			if err := st.Documents.ResetForReprocess(ctx, args[0]); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("document %s is not in %s state", args[0], models.StatusFailed)
				}
				return err
			}
			fmt.Printf("Document %s reset to %s\n", args[0], models.StatusPending)
			return nil
		},
	}
}
