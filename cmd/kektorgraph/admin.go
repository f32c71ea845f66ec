package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/engine"
)

var (
	exportFormat string
	exportOut    string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(eng.Stats())
	}),
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write a snapshot and truncate the journal",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine) error {
		if err := eng.SaveSnapshot(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "snapshot written to", eng.SnapshotPath())
		return nil
	}),
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the index and the incidence store agree",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine) error {
		if err := eng.CheckConsistency(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the graph",
	Long: `Export the graph as a dense signed incidence matrix in CSV (--format csv,
rows are nodes, columns are edges, +1 source, -1 target) or as a portable
dump that LoadGraph reads back (--format dump).`,
	Args: cobra.NoArgs,
	RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine) error {
		w := cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		switch exportFormat {
		case "csv":
			return writeIncidenceCSV(w, eng.Graph)
		case "dump":
			return eng.Dump(w)
		}
		return fmt.Errorf("unknown export format %q (csv, dump)", exportFormat)
	}),
}

func init() {
	rootCmd.AddCommand(statsCmd, saveCmd, checkCmd, exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Export format (csv, dump)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "-", "Output file, - for stdout")
}

func withEngine(fn func(*cobra.Command, *engine.Engine) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return fn(cmd, eng)
	}
}

// writeIncidenceCSV writes H with a header row of edge IDs and one row per node.
func writeIncidenceCSV(w io.Writer, g *engine.Graph) error {
	m, nodes, edges, err := g.DenseView()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(edges)+1)
	header = append(header, "node")
	for _, e := range edges {
		header = append(header, "e"+strconv.FormatUint(uint64(e), 10))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(edges)+1)
	for i, n := range nodes {
		row[0] = "n" + strconv.FormatUint(uint64(n), 10)
		for j := range edges {
			row[j+1] = strconv.Itoa(int(m.At(i, j)))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
