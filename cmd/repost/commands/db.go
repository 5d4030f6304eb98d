package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/sym"
)

// DbCmd groups database commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the trigger database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Long: `Apply pending schema migrations to the configured database.
'repost serve' migrates on startup; this command is for preparing a
database ahead of deployment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, dialect, err := openDatabase(logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		fmt.Printf("%s %s database is up to date\n", sym.DB, dialect)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}
