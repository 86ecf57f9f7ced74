package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/pagepack/cli/client"
	"github.com/fluxbase-eu/pagepack/cli/output"
	"github.com/fluxbase-eu/pagepack/cli/util"
	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/usage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Operate a running server",
	Long: `Talk to the operator API of a running server. The operator API only
answers requests from the loopback interface, so run these on the server host
or through a tunnel.`,
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and the published build",
	RunE:  runServerStatus,
}

var serverBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild bundles and publish them immediately",
	RunE:  runServerBuild,
}

var serverStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dependency counts recorded by the server",
	RunE:  runServerStats,
}

var serverResetCmd = &cobra.Command{
	Use:   "reset-usage",
	Short: "Delete every dependency recorded by the server",
	RunE:  runServerReset,
}

func init() {
	serverCmd.AddCommand(serverStatusCmd)
	serverCmd.AddCommand(serverBuildCmd)
	serverCmd.AddCommand(serverStatsCmd)
	serverCmd.AddCommand(serverResetCmd)
}

type healthResponse struct {
	Status   string                 `json:"status" yaml:"status"`
	Services map[string]interface{} `json:"services" yaml:"services"`
}

func runServerStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := GetClient()

	var health healthResponse
	resp, err := c.Request(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	// a degraded server answers 503 with the same body
	if err := decodeHealth(resp, &health); err != nil {
		return err
	}

	var manifest *bundle.Manifest
	if err := c.DoGet(ctx, "/api/v1/admin/bundles/manifest", nil, &manifest); err != nil {
		if !isNotFound(err) {
			return err
		}
		manifest = nil
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(map[string]interface{}{"health": health, "manifest": manifest})
	}

	formatter.PrintKeyValue("Status", health.Status)
	for name, v := range health.Services {
		formatter.PrintKeyValue("  "+name, fmt.Sprintf("%v", v))
	}
	if manifest == nil {
		formatter.PrintKeyValue("Build", "none")
		return nil
	}
	formatter.PrintKeyValue("Build", manifest.BuildID)
	formatter.PrintKeyValue("Mode", manifest.Mode)
	formatter.PrintKeyValue("Built", manifest.CreatedAt.Format(time.RFC3339))
	formatter.PrintKeyValue("Files", fmt.Sprintf("%d (%s)", len(manifest.Files), util.FormatBytes(int64(manifest.TotalBytes()))))
	return nil
}

func runServerBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bundleTimeout)
	defer cancel()

	var manifest bundle.Manifest
	if err := GetClient().DoPost(ctx, "/api/v1/admin/bundles/build", nil, &manifest); err != nil {
		return err
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(manifest)
	}
	formatter.PrintSuccess(fmt.Sprintf("Published build %s (%s, %d files)", manifest.BuildID, manifest.Mode, len(manifest.Files)))
	formatter.PrintTable(manifestTable(&manifest))
	return nil
}

func runServerStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var body struct {
		PageTypes []usage.PageTypeStat `json:"page_types"`
	}
	if err := GetClient().DoGet(ctx, "/api/v1/admin/usage/stats", url.Values{}, &body); err != nil {
		return err
	}

	formatter := GetFormatter()
	if formatter.Format != output.FormatTable {
		return formatter.Print(body.PageTypes)
	}

	data := output.TableData{Headers: []string{"PAGE TYPE", "DEPENDENCIES"}}
	for _, s := range body.PageTypes {
		data.Rows = append(data.Rows, []string{s.PageType, fmt.Sprintf("%d", s.Dependencies)})
	}
	formatter.PrintTable(data)
	return nil
}

func runServerReset(cmd *cobra.Command, args []string) error {
	if ok, err := confirm("Delete every dependency recorded by the server?"); err != nil || !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var body struct {
		Deleted int64 `json:"deleted"`
	}
	if err := GetClient().DoDelete(ctx, "/api/v1/admin/usage", &body); err != nil {
		return err
	}

	GetFormatter().PrintSuccess(fmt.Sprintf("Deleted %d records.", body.Deleted))
	return nil
}

func decodeHealth(resp *http.Response, target *healthResponse) error {
	if resp.StatusCode != http.StatusServiceUnavailable {
		return client.DecodeResponse(resp, target)
	}
	defer func() { _ = resp.Body.Close() }()
	return json.NewDecoder(resp.Body).Decode(target)
}

func isNotFound(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
