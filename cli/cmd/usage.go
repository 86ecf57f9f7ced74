package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fluxbase-eu/pagepack/cli/output"
	"github.com/fluxbase-eu/pagepack/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Manage recorded page-type usage",
	Long: `List, summarise, reset, export and import the (page type, module) pairs
the collection endpoint has recorded. Requires collector.store=postgres.`,
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded dependencies",
	RunE:  runUsageList,
}

var usageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dependency counts per page type",
	RunE:  runUsageStats,
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every recorded dependency",
	RunE:  runUsageReset,
}

var usageExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write every record as JSON or YAML",
	Example: `  pagepack usage export usage.yaml
  pagepack usage export > usage.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUsageExport,
}

var usageImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load records from a JSON or YAML export",
	Long: `Load records written by 'usage export', e.g. to seed a new environment
from production data. Pairs that already exist are skipped unless --strict is
set, in which case the first duplicate aborts the import.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsageImport,
}

var (
	usagePageType string
	usageStrict   bool
)

func init() {
	usageListCmd.Flags().StringVar(&usagePageType, "page-type", "", "only show records of this page type")
	usageImportCmd.Flags().BoolVar(&usageStrict, "strict", false, "fail on the first record that already exists")

	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageStatsCmd)
	usageCmd.AddCommand(usageResetCmd)
	usageCmd.AddCommand(usageExportCmd)
	usageCmd.AddCommand(usageImportCmd)
}

func runUsageList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ws, err := openWorkspace(true)
	if err != nil {
		return err
	}
	defer ws.Close()

	records, err := ws.store.List(ctx)
	if err != nil {
		return err
	}
	records = filterRecords(records, usagePageType)

	formatter := GetFormatter()
	if len(records) == 0 {
		formatter.PrintInfo("No usage recorded.")
		return nil
	}
	if formatter.Format != output.FormatTable {
		return formatter.Print(records)
	}

	data := output.TableData{
		Headers: []string{"PAGE TYPE", "MODULE", "PATH"},
		Rows:    make([][]string, len(records)),
	}
	for i, r := range records {
		data.Rows[i] = []string{r.PageType, r.DependencyName, r.DependencyPath}
	}
	formatter.PrintTable(data)
	return nil
}

func runUsageStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ws, err := openWorkspace(true)
	if err != nil {
		return err
	}
	defer ws.Close()

	stats, err := ws.store.Stats(ctx)
	if err != nil {
		return err
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(stats)
	}

	data := output.TableData{
		Headers: []string{"PAGE TYPE", "DEPENDENCIES"},
		Rows:    make([][]string, len(stats)),
	}
	for i, s := range stats {
		data.Rows[i] = []string{s.PageType, strconv.Itoa(s.Dependencies)}
	}
	formatter.PrintTable(data)
	return nil
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ws, err := openWorkspace(true)
	if err != nil {
		return err
	}
	defer ws.Close()

	if ok, err := confirm("Delete every recorded dependency? The next build falls back to flat bundles."); err != nil || !ok {
		return err
	}

	n, err := ws.store.Reset(ctx)
	if err != nil {
		return err
	}

	GetFormatter().PrintSuccess(fmt.Sprintf("Deleted %d records.", n))
	return nil
}

func runUsageExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ws, err := openWorkspace(true)
	if err != nil {
		return err
	}
	defer ws.Close()

	records, err := ws.store.List(ctx)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		// stdout follows --output, table makes no sense for a round trip
		formatter := GetFormatter()
		if formatter.Format == output.FormatTable {
			formatter.Format = output.FormatJSON
		}
		return formatter.Print(records)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args[0], err)
	}
	defer func() { _ = f.Close() }()

	if err := writeRecords(f, records, isYAMLFile(args[0])); err != nil {
		return err
	}

	GetFormatter().PrintSuccess(fmt.Sprintf("Exported %d records to %s.", len(records), args[0]))
	return nil
}

func runUsageImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = f.Close() }()

	records, err := readRecords(f, isYAMLFile(args[0]))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	ws, err := openWorkspace(true)
	if err != nil {
		return err
	}
	defer ws.Close()

	mode := usage.ConflictIgnore
	if usageStrict {
		mode = usage.ConflictError
	}

	result, err := importRecords(ctx, ws.store, records, mode)
	if err != nil {
		return err
	}

	GetFormatter().PrintSuccess(fmt.Sprintf("Imported %d records, %d already present.", result.inserted, result.skipped))
	return nil
}

type importResult struct {
	inserted int
	skipped  int
}

// importRecords inserts records in order. In ConflictError mode the first
// duplicate stops the import and is reported with its position.
func importRecords(ctx context.Context, store usage.Store, records []usage.Record, mode usage.ConflictMode) (importResult, error) {
	var res importResult
	for i, r := range records {
		if r.PageType == "" || r.DependencyPath == "" {
			return res, fmt.Errorf("record %d: page_type and dependency_path are required", i+1)
		}
		if !usage.ValidPageType(r.PageType) {
			return res, fmt.Errorf("record %d: invalid page_type %q", i+1, r.PageType)
		}

		inserted, err := store.Insert(ctx, r, mode)
		if errors.Is(err, usage.ErrDuplicateRecord) {
			return res, fmt.Errorf("record %d: %w", i+1, err)
		}
		if err != nil {
			return res, err
		}
		if inserted {
			res.inserted++
		} else {
			res.skipped++
		}
	}
	return res, nil
}

func filterRecords(records []usage.Record, pageType string) []usage.Record {
	if pageType == "" {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if r.PageType == pageType {
			out = append(out, r)
		}
	}
	return out
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func writeRecords(w io.Writer, records []usage.Record, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func readRecords(r io.Reader, asYAML bool) ([]usage.Record, error) {
	var records []usage.Record
	if asYAML {
		if err := yaml.NewDecoder(r).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return records, nil
	}
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
