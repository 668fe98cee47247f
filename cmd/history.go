package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/knusbaum/robby/internal/storage"
	"github.com/knusbaum/robby/internal/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List saved runs, or print one as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := historyPath()
		if err != nil {
			return err
		}
		store, err := storage.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			return showRun(os.Stdout, store, args[0])
		}
		return listRuns(os.Stdout, store)
	},
}

func listRuns(out io.Writer, store *storage.Store) error {
	items, err := store.List()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, styles.Subtle.Render("no saved runs"))
		return nil
	}

	columns := []table.Column{
		{Title: "ID", Width: 36},
		{Title: "Time", Width: 20},
		{Title: "Host", Width: 30},
		{Title: "Users", Width: 6},
		{Title: "Reqs", Width: 10},
		{Title: "Fail%", Width: 8},
	}

	rows := make([]table.Row, len(items))
	for i, item := range items {
		total := item.Summary.Total
		failPct := 0.0
		if total.Requests > 0 {
			failPct = float64(total.Fail) / float64(total.Requests) * 100
		}
		rows[i] = table.Row{
			item.ID,
			item.Timestamp.Format(time.DateTime),
			item.Config.Host,
			fmt.Sprintf("%d", item.Config.NumUsers),
			fmt.Sprintf("%d", total.Requests),
			fmt.Sprintf("%.2f%%", failPct),
		}
	}

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	// Printed once, so no row is highlighted.
	s.Selected = lipgloss.NewStyle()

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithStyles(s),
		// Header plus its bottom border.
		table.WithHeight(len(rows)+2),
	)
	fmt.Fprintln(out, t.View())
	return nil
}

func showRun(out io.Writer, store *storage.Store, id string) error {
	item, err := store.Get(id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(item)
}
