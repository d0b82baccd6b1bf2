package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinical-reasoning-engine/internal/history"
)

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and move the local report history",
	}

	cmd.AddCommand(c.historyListCmd())
	cmd.AddCommand(c.historyShowCmd())
	cmd.AddCommand(c.historyDeleteCmd())
	cmd.AddCommand(c.historyExportCmd())
	cmd.AddCommand(c.historyImportCmd())
	return cmd
}

func (c *cli) openStore() (*history.SQLiteStore, error) {
	if err := c.cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return history.NewSQLiteStore(c.cfg.HistoryDBPath(), c.logger)
}

func (c *cli) historyListCmd() *cobra.Command {
	var (
		subjectID string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), subjectID, limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBJECT\tURGENCY\tRISK\tKNOWLEDGE\tCREATED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID, rec.SubjectID, rec.Urgency, rec.RiskTier, rec.KnowledgeVersion,
					rec.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "only list reports for this subject")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of reports to skip")
	return cmd
}

func (c *cli) historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, rec)
		},
	}
}

func (c *cli) historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Delete(cmd.Context(), args[0])
		},
	}
}

func (c *cli) historyExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every stored report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if output == "-" {
				return store.ExportJSON(cmd.Context(), cmd.OutOrStdout())
			}
			if output == "" {
				output = filepath.Join(c.cfg.ExportDir(),
					fmt.Sprintf("reports-%s.json", time.Now().UTC().Format("20060102-150405")))
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := store.ExportJSON(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported reports to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default: timestamped file in the export directory)")
	return cmd
}

func (c *cli) historyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import reports from a JSON export, skipping ids already stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			imported, skipped, err := store.ImportJSON(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d reports, skipped %d\n", imported, skipped)
			return nil
		},
	}
}
