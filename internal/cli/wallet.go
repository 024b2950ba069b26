package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/numlease/numlease/internal/config"
	"github.com/numlease/numlease/internal/pricing"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Operator tools for the balance ledgers",
}

// Funding is owned by the external wallet service; this command exists for
// operators and local development only.
var walletCreditCmd = &cobra.Command{
	Use:   "credit",
	Short: "Credit a user's balance ledger directly",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		userID, _ := cmd.Flags().GetString("user")
		currency, _ := cmd.Flags().GetString("currency")
		amountStr, _ := cmd.Flags().GetString("amount")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		if currency != "NGN" && currency != "USD" {
			return fmt.Errorf("--currency must be NGN or USD")
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil || !amount.IsPositive() {
			return fmt.Errorf("--amount must be a positive decimal")
		}

		cfg, err := config.Load(configPath, nil)
		if err != nil {
			return err
		}

		st, cleanup, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := st.Credit(cmd.Context(), userID, currency, pricing.MinorUnits(amount)); err != nil {
			return err
		}

		balances, err := st.Balances(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Printf("credited %s %s to %s (balance now %s)\n",
			amount.StringFixed(2), currency, userID,
			pricing.FromMinorUnits(balances[currency]).StringFixed(2))
		return nil
	},
}

func init() {
	walletCreditCmd.Flags().String("config", "", "Path to numlease.toml")
	walletCreditCmd.Flags().String("user", "", "User id to credit")
	walletCreditCmd.Flags().String("currency", "NGN", "Ledger currency: NGN or USD")
	walletCreditCmd.Flags().String("amount", "", "Amount in major units, e.g. 850.00")

	walletCmd.AddCommand(walletCreditCmd)
}
