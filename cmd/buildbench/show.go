package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/buildbench/compact"
	"github.com/weiihann/buildbench/history"
	"github.com/weiihann/buildbench/report"
)

func newValidateCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a suite against a project without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}

			s, err := loadSuite(cfg)
			if err != nil {
				return err
			}

			builds := 0
			for _, sc := range s.Scenarios {
				builds += sc.Repeat * len(sc.Steps)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d scenarios, %d steps to run\n",
				cfg.Suite, len(s.Scenarios), builds)

			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print the records of a .result.bin or .result.json file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(args[0])
			if err != nil {
				return err
			}

			return printRecords(cmd.OutOrStdout(), records, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false,
		"Output records as JSON instead of text")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored benchmark runs",
	}

	cmd.PersistentFlags().StringVar(&path, "path", "",
		"History database directory")

	open := func() (*history.Store, error) {
		if path == "" {
			return nil, usageError("--path is required")
		}

		return history.Open(history.Options{Path: path})
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs()
			if err != nil {
				return err
			}

			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	var asJSON bool

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the records of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Records(args[0])
			if err != nil {
				return err
			}

			return printRecords(cmd.OutOrStdout(), records, asJSON)
		},
	}

	show.Flags().BoolVar(&asJSON, "json", false,
		"Output records as JSON instead of text")

	cmd.AddCommand(list, show)

	return cmd
}

// readRecords reads a compact or JSON result file, chosen by extension.
func readRecords(path string) ([]report.Record, error) {
	switch filepath.Ext(path) {
	case ".bin":
		return compact.ReadFile(path)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read results: %w", err)
		}

		var records []report.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse results %s: %w", path, err)
		}

		return records, nil
	default:
		return nil, usageError("unsupported results file %s: want .bin or .json", path)
	}
}

func printRecords(w io.Writer, records []report.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if records == nil {
			records = []report.Record{}
		}

		return enc.Encode(records)
	}

	for _, rec := range records {
		fmt.Fprintf(w, "Scenario '%s' #%d\n", rec.Scenario, rec.Iteration)

		for _, st := range rec.Steps {
			fmt.Fprintf(w, "  Step #%d\n", st.Step)

			for _, m := range st.Results {
				fmt.Fprintf(w, "    %s: %d\n", m.Name, m.Value)
			}
		}
	}

	return nil
}

func printRuns(w io.Writer, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "RUN\tSTARTED\tRECORDS\tSUITE")

	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.StartedAt.Format(time.DateTime), r.Records, r.Suite)
	}

	return tw.Flush()
}
