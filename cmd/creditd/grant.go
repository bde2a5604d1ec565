package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/roomledger/internal/config"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagGrantUser        = "user"
	flagGrantAmount      = "amount"
	flagGrantKey         = "key"
	flagGrantDescription = "description"
	flagGrantOperator    = "operator"
)

func newGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant bonus credits to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			rawUser, _ := flags.GetString(flagGrantUser)
			rawAmount, _ := flags.GetInt64(flagGrantAmount)
			rawKey, _ := flags.GetString(flagGrantKey)
			description, _ := flags.GetString(flagGrantDescription)
			rawOperator, _ := flags.GetString(flagGrantOperator)

			userID, err := ledger.NewUserID(rawUser)
			if err != nil {
				return err
			}
			operatorID, err := ledger.NewUserID(rawOperator)
			if err != nil {
				return err
			}
			amount, err := ledger.NewPositiveCredits(rawAmount)
			if err != nil {
				return err
			}
			key, err := ledger.NewIdempotencyKey(rawKey)
			if err != nil {
				return err
			}
			databaseURL, err := config.LoadDatabaseURL(flags)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			storage, err := openBackend(cmd.Context(), config.StoreGorm, databaseURL, false, logger)
			if err != nil {
				return err
			}
			defer storage.close()
			service, err := ledger.NewService(storage.store, nowUnixUTC)
			if err != nil {
				return err
			}
			entry, err := service.GrantBonus(cmd.Context(), ledger.NewCaller(operatorID, ledger.RoleAdmin), userID, amount, key, description)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s; balance %d (entry %s)\n",
				entry.Amount().Int64(), userID.String(), entry.BalanceAfter().Int64(), entry.EntryID().String())
			return err
		},
	}
	flags := cmd.Flags()
	config.RegisterDatabaseFlags(flags)
	flags.String(flagGrantUser, "", "user id to credit")
	flags.Int64(flagGrantAmount, 0, "bonus credits to add")
	flags.String(flagGrantKey, "", "idempotency key; reusing it replays the grant")
	flags.String(flagGrantDescription, "Bonus credits", "entry description")
	flags.String(flagGrantOperator, "cli", "operator recorded as the granting admin")
	_ = cmd.MarkFlagRequired(flagGrantUser)
	_ = cmd.MarkFlagRequired(flagGrantAmount)
	_ = cmd.MarkFlagRequired(flagGrantKey)
	return cmd
}
