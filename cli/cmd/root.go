// Package cmd provides the Cobra commands for the pagepack CLI.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/pagepack/cli/client"
	"github.com/fluxbase-eu/pagepack/cli/output"
	"github.com/fluxbase-eu/pagepack/cli/util"
	"github.com/fluxbase-eu/pagepack/internal/api"
	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/fluxbase-eu/pagepack/internal/database"
	"github.com/fluxbase-eu/pagepack/internal/pubsub"
	"github.com/fluxbase-eu/pagepack/internal/storage"
	"github.com/fluxbase-eu/pagepack/internal/usage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	serverURL string
	outputFmt string
	noHeaders bool
	quiet     bool
	debug     bool
	assumeYes bool

	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pagepack",
	Short: "pagepack CLI - Build and inspect page-type script bundles",
	Long: `pagepack CLI builds dependency-ordered script bundles from recorded
page-type usage and manages the usage data they are built from.

Local commands read the same configuration file as the server and work
directly on the database and the static directory:
  pagepack bundle build      Build bundles after a static content deploy
  pagepack usage stats       Show how many modules each page type loads

Server commands talk to the operator API of a running instance:
  pagepack server status     Check a running server
  pagepack server build      Rebuild and publish bundles on a running server`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceErrors = quiet

		level := zerolog.WarnLevel
		if debug || viper.GetBool("debug") {
			level = zerolog.DebugLevel
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

		format, err := output.ParseFormat(outputFmt)
		if err != nil {
			return err
		}
		formatter = output.NewFormatter(format, noHeaders, quiet)
		return nil
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"server configuration file (default searches ./pagepack.yaml, ./config, /etc/pagepack)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080",
		"operator API base URL for server commands")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false,
		"skip confirmation prompts")
	_ = rootCmd.RegisterFlagCompletionFunc("output", completeOutputFormat)

	viper.SetEnvPrefix("PAGEPACK_CLI")
	_ = viper.BindEnv("server") // PAGEPACK_CLI_SERVER
	_ = viper.BindEnv("debug")  // PAGEPACK_CLI_DEBUG

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(completionCmd)
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
	}
	return formatter
}

// GetClient returns a client for the operator API of a running server
func GetClient() *client.Client {
	base := serverURL
	if env := viper.GetString("server"); env != "" && !rootCmd.PersistentFlags().Changed("server") {
		base = env
	}
	return client.NewClient(base, client.WithDebug(debug))
}

// workspace holds what local commands need. Close releases the database.
type workspace struct {
	cfg     *config.Config
	db      *database.Connection
	store   usage.Store
	storage *storage.Service
	ps      pubsub.PubSub
}

func (w *workspace) Close() {
	if w.ps != nil {
		_ = w.ps.Close()
	}
	if w.db != nil {
		w.db.Close()
	}
}

// openWorkspace loads the server configuration and connects to what it names.
// The memory usage store only exists inside a server process, so commands
// that need recorded usage pass requireUsage.
func openWorkspace(requireUsage bool) (*workspace, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, err
	}

	w := &workspace{cfg: cfg}

	if cfg.NeedsDatabase() {
		w.db, err = database.NewConnection(cfg.Database)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.Collector.Store == "postgres":
		w.store = usage.NewPostgresStore(w.db)
	case requireUsage:
		w.Close()
		return nil, fmt.Errorf("collector store %q is private to the server process; use 'pagepack server' commands instead", cfg.Collector.Store)
	default:
		log.Warn().Msg("No persistent usage store configured, bundles will be built in flat mode")
		w.store = usage.NewMemoryStore()
	}

	w.storage, err = storage.NewService(&cfg.Storage)
	if err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// builder creates a bundle builder primed with the last published manifest
func (w *workspace) builder(ctx context.Context) (*bundle.Builder, error) {
	catalog := &bundle.Catalog{}
	if err := catalog.Refresh(ctx, w.storage.Provider, w.cfg.Bundle.BundlePath()); err != nil {
		return nil, err
	}
	return bundle.NewBuilder(w.cfg.Bundle, w.store, w.storage.Provider, usage.NewNormalizer(w.cfg.Collector), catalog)
}

// announced wraps builder so that a build or clear made here is published on
// the bundles channel and running servers reload their catalog. With the
// local scaling backend there is nobody to tell and servers only see the new
// manifest on restart.
func (w *workspace) announced(builder api.BundleBuilder) (*api.BundleSync, error) {
	if w.ps == nil {
		var pool *pgxpool.Pool
		if w.db != nil {
			pool = w.db.Pool()
		}
		ps, err := pubsub.NewPubSub(w.cfg.Scaling, pool, pubsub.BundlesChannel)
		if err != nil {
			return nil, err
		}
		w.ps = ps
	}
	return api.NewBundleSync(builder, w.ps, w.storage.Provider, w.cfg.Bundle.BundlePath()), nil
}

// confirm asks before destructive actions unless --yes was given
func confirm(prompt string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !util.IsInteractive() {
		return false, fmt.Errorf("refusing to continue without a terminal; pass --yes to confirm")
	}
	return util.Confirm(prompt, false)
}
