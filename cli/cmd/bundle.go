package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/pagepack/cli/output"
	"github.com/fluxbase-eu/pagepack/cli/util"
	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/storage"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Build and inspect bundles",
	Long: `Build bundles from recorded usage into the static directory, preview a
build, or remove every bundle. These commands work on the storage configured
for the server. Builds and clears are announced on the scaling backend so
running servers reload the manifest; with the local backend they pick it up on
restart or through 'pagepack server build'.`,
}

var bundleBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build bundles",
	Example: `  # After deploying static content
  pagepack bundle build --config /etc/pagepack/pagepack.yaml`,
	RunE: runBundleBuild,
}

var bundlePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the next build without writing",
	RunE:  runBundlePlan,
}

var bundleClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every bundle",
	RunE:  runBundleClear,
}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the files of the last build",
	RunE:  runBundleList,
}

var bundleTimeout time.Duration

func init() {
	bundleCmd.PersistentFlags().DurationVar(&bundleTimeout, "timeout", 10*time.Minute, "abort after this long")

	bundleCmd.AddCommand(bundleBuildCmd)
	bundleCmd.AddCommand(bundlePlanCmd)
	bundleCmd.AddCommand(bundleClearCmd)
	bundleCmd.AddCommand(bundleListCmd)
}

func runBundleBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bundleTimeout)
	defer cancel()

	ws, err := openWorkspace(false)
	if err != nil {
		return err
	}
	defer ws.Close()

	builder, err := ws.builder(ctx)
	if err != nil {
		return err
	}
	bundles, err := ws.announced(builder)
	if err != nil {
		return err
	}

	manifest, err := bundles.Build(ctx)
	if err != nil {
		return describeBuildError(err)
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(manifest)
	}

	formatter.PrintSuccess(fmt.Sprintf("Built %d files (%s, %s) in %s, build %s",
		len(manifest.Files), manifest.Mode, util.FormatBytes(int64(manifest.TotalBytes())),
		manifest.Duration.Round(time.Millisecond), manifest.BuildID))
	formatter.PrintTable(manifestTable(manifest))
	return nil
}

func runBundlePlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bundleTimeout)
	defer cancel()

	ws, err := openWorkspace(false)
	if err != nil {
		return err
	}
	defer ws.Close()

	builder, err := ws.builder(ctx)
	if err != nil {
		return err
	}

	plan, err := builder.Plan(ctx)
	if err != nil {
		return describeBuildError(err)
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(plan)
	}

	formatter.PrintInfo("Mode: " + plan.Mode)
	formatter.PrintTable(planTable(plan))
	for _, b := range plan.Buckets {
		for _, m := range b.Missing {
			formatter.PrintWarning(fmt.Sprintf("%s: %s is recorded but not deployed", b.Name, m))
		}
	}
	return nil
}

func runBundleClear(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bundleTimeout)
	defer cancel()

	ws, err := openWorkspace(false)
	if err != nil {
		return err
	}
	defer ws.Close()

	if ok, err := confirm(fmt.Sprintf("Delete every file below %s?", ws.cfg.Bundle.BundlePath())); err != nil || !ok {
		return err
	}

	builder, err := ws.builder(ctx)
	if err != nil {
		return err
	}
	bundles, err := ws.announced(builder)
	if err != nil {
		return err
	}
	if err := bundles.Clear(ctx); err != nil {
		return err
	}

	GetFormatter().PrintSuccess("Bundles deleted.")
	return nil
}

func runBundleList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ws, err := openWorkspace(false)
	if err != nil {
		return err
	}
	defer ws.Close()

	manifest, err := bundle.ReadManifest(ctx, ws.storage.Provider, ws.cfg.Bundle.BundlePath())
	if errors.Is(err, storage.ErrNotFound) {
		GetFormatter().PrintInfo("No bundles have been built.")
		return nil
	}
	if err != nil {
		return err
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(manifest)
	}
	formatter.PrintTable(manifestTable(manifest))
	return nil
}

func manifestTable(m *bundle.Manifest) output.TableData {
	data := output.TableData{
		Headers: []string{"FILE", "KIND", "MODULES", "SIZE"},
		Rows:    make([][]string, len(m.Files)),
	}
	for i, f := range m.Files {
		data.Rows[i] = []string{f.Key, f.Kind, strconv.Itoa(len(f.Modules)), util.FormatBytes(int64(f.Bytes))}
	}
	return data
}

func planTable(p *bundle.Plan) output.TableData {
	data := output.TableData{
		Headers: []string{"BUNDLE", "MODULES", "MISSING", "FIRST"},
		Rows:    make([][]string, len(p.Buckets)),
	}
	for i, b := range p.Buckets {
		first := ""
		if len(b.Modules) > 0 {
			first = util.TruncateString(strings.Join(b.Modules[:min(3, len(b.Modules))], ", "), 60)
		}
		data.Rows[i] = []string{b.Name, strconv.Itoa(len(b.Modules)), strconv.Itoa(len(b.Missing)), first}
	}
	return data
}

// describeBuildError adds operator guidance to failures a rebuild will not fix
func describeBuildError(err error) error {
	var cycle *bundle.CycleError
	switch {
	case errors.As(err, &cycle):
		return fmt.Errorf("%w\nbreak the loop or exclude one of the modules with bundle.exclude", err)
	case errors.Is(err, bundle.ErrMissingContent):
		return fmt.Errorf("%w\nrecorded modules are missing from the static directory; deploy static content first", err)
	default:
		return err
	}
}
