package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"crudstress/internal/report"
	"crudstress/internal/storage"
	"crudstress/internal/tui/styles"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List recorded runs, or show one in full",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := v.GetString("history.path")
		if path == "" {
			var err error
			if path, err = storage.DefaultPath(); err != nil {
				return err
			}
		}

		store, err := storage.Open(path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			return showRun(out, store, args[0])
		}
		return listRuns(out, store, historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "number of runs to list (0 = all)")
}

func listRuns(w io.Writer, store *storage.Store, limit int) error {
	items, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(w, styles.Subtle.Render("No runs recorded yet."))
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			it.Timestamp.Format("2006-01-02 15:04:05"),
			strings.Join(it.Targets, ","),
			fmt.Sprintf("%d", it.Summary.TotalOps),
			fmt.Sprintf("%d", it.Summary.TotalErrors),
			fmt.Sprintf("%.1f", it.Summary.OpsPerSec),
			fmt.Sprintf("%d", it.Summary.Failed),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Subtle).
		Headers("ID", "STARTED", "TARGETS", "OPS", "ERRORS", "OPS/S", "FAILED").
		Rows(rows...)
	fmt.Fprintln(w, t.String())
	return nil
}

func showRun(w io.Writer, store *storage.Store, id string) error {
	item, err := store.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("run %s: %w", id, err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", styles.Title.Render("Run"), item.ID)
	fmt.Fprintf(w, "Started : %s\n", item.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Targets : %s\n", strings.Join(item.Targets, ", "))
	fmt.Fprintf(w, "Workers : %d\n", item.Config.Workers)
	if item.Config.Iterations > 0 {
		fmt.Fprintf(w, "Cycles  : %d per target\n", item.Config.Iterations)
	} else {
		fmt.Fprintf(w, "Duration: %s\n", item.Config.Duration)
	}
	return report.Render(w, item.Summary)
}
