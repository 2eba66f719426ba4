package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/data-mapper/internal/dataset"
)

var (
	columnsSheet  string
	columnsOutput string
)

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Edit the columns of a dataset before or after a run",
	Long:  "Merge, delete or reorder columns. The result overwrites the input unless --output is given; other sheets of a workbook are kept.",
}

var columnsListCmd = &cobra.Command{
	Use:   "list <file>",
	Short: "Print the column names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := dataset.LoadFile(cmd.Context(), args[0], columnsSheet)
		if err != nil {
			return eris.Wrapf(err, "load %s", args[0])
		}
		for i, name := range tbl.Header() {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i+1, name)
		}
		return nil
	},
}

var columnsMergeCmd = &cobra.Command{
	Use:   "merge <file> <column>...",
	Short: "Add a column joining the given columns with a space",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editColumns(cmd, args[0], func(t *dataset.Table) error {
			name, err := t.MergeColumns(args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added column %q.\n", name)
			return nil
		})
	},
}

var columnsDeleteCmd = &cobra.Command{
	Use:   "delete <file> <column>...",
	Short: "Remove the given columns",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editColumns(cmd, args[0], func(t *dataset.Table) error {
			return t.DeleteColumns(args[1:]...)
		})
	},
}

var columnsMoveCmd = &cobra.Command{
	Use:   "move <file> <column> <left|right>",
	Short: "Swap a column with its neighbour",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dir int
		switch args[2] {
		case "left":
			dir = -1
		case "right":
			dir = 1
		default:
			return eris.Errorf("direction must be left or right, got %q", args[2])
		}
		return editColumns(cmd, args[0], func(t *dataset.Table) error {
			return t.MoveColumn(args[1], dir)
		})
	},
}

func init() {
	columnsCmd.PersistentFlags().StringVar(&columnsSheet, "sheet", "", "XLSX sheet to read (default: first sheet)")
	columnsCmd.PersistentFlags().StringVarP(&columnsOutput, "output", "o", "", "write the result here instead of overwriting the input")

	columnsCmd.AddCommand(columnsListCmd)
	columnsCmd.AddCommand(columnsMergeCmd)
	columnsCmd.AddCommand(columnsDeleteCmd)
	columnsCmd.AddCommand(columnsMoveCmd)
	rootCmd.AddCommand(columnsCmd)
}

func editColumns(cmd *cobra.Command, path string, edit func(*dataset.Table) error) error {
	tbl, err := dataset.LoadFile(cmd.Context(), path, columnsSheet)
	if err != nil {
		return eris.Wrapf(err, "load %s", path)
	}
	if err := edit(tbl); err != nil {
		return err
	}
	out := columnsOutput
	if out == "" {
		out = path
	}
	save := dataset.SaveFile
	if out == path && strings.EqualFold(filepath.Ext(path), ".xlsx") {
		// Editing a workbook in place keeps its other sheets.
		save = func(p string, t *dataset.Table) error {
			return dataset.ReplaceSheetXLSX(p, columnsSheet, t)
		}
	}
	if err := save(out, tbl); err != nil {
		return eris.Wrapf(err, "write %s", out)
	}
	return nil
}
