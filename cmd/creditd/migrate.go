package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/roomledger/internal/config"
	"github.com/MarkoPoloResearchLab/roomledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/roomledger/internal/store/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect schema migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			databaseURL, err := config.LoadDatabaseURL(cmd.Flags())
			if err != nil {
				return err
			}
			driver, dsn, err := config.ResolveDatabase(databaseURL)
			if err != nil {
				return err
			}
			if driver == gormstore.DriverPostgres {
				return migrations.Run(cmd.Context(), dsn, command)
			}
			if command != "up" {
				return fmt.Errorf("sqlite databases only support migrate up")
			}
			db, err := gormstore.Open(driver, dsn)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer func() { _ = sqlDB.Close() }()
			return gormstore.AutoMigrate(db)
		},
	}
	config.RegisterDatabaseFlags(cmd.Flags())
	return cmd
}
