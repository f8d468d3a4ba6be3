package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sheetbot-go/internal/storage"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Copy the local SQLite database (row store and dispatch ledger)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closer, err := rootOpts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			dbCfg := storage.DefaultConfig()
			dbCfg.Path = cfg.Store.DBPath
			if dbCfg.Path == storage.MemoryPath {
				return errors.New("nothing to back up: database is in memory")
			}
			db, err := storage.Open(dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.Backup(cmd.Context(), db, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %s to %s.\n", cfg.Store.DBPath, args[0])
			return nil
		},
	}
}
