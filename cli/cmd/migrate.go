package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/pagepack/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or upgrade the usage and rate limit tables. The server applies the
same migrations on start; run this when the server's database role may not
change the schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(false)
		if err != nil {
			return err
		}
		defer ws.Close()

		db := ws.db
		if db == nil {
			db, err = database.NewConnection(ws.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
		}

		if err := db.Migrate(); err != nil {
			return err
		}
		GetFormatter().PrintSuccess("Migrations applied.")
		return nil
	},
}
