package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/sym"
)

// BudgetCmd shows spend on the paid CAPTCHA service
var BudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: sym.Captcha + " Show CAPTCHA solving spend",
	Long: sym.Captcha + ` Show spend on the paid CAPTCHA service over sliding windows.

Limits are set in the captcha.budget section; a zero limit is unlimited.
Once a limit is reached, api-strategy runs fail at the CAPTCHA stage
until older spend slides out of the window.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, dialect, err := openDatabase(logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		tracker := newSpendTracker(conn, dialect, logger.Logger)
		status, err := tracker.Status(context.Background())
		if err != nil {
			return err
		}
		limits := tracker.Limits()

		data := pterm.TableData{
			{"Window", "Solves", "Spend", "Limit", "Remaining"},
			budgetRow("24h", status.DailyOps, status.DailySpend, limits.DailyUSD, status.DailyRemaining),
			budgetRow("7d", status.WeeklyOps, status.WeeklySpend, limits.WeeklyUSD, status.WeeklyRemaining),
			budgetRow("30d", status.MonthlyOps, status.MonthlySpend, limits.MonthlyUSD, status.MonthlyRemaining),
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		pterm.Info.Printfln("Cost per solve: $%.4f", limits.CostPerSolveUSD)
		return nil
	},
}

func budgetRow(window string, ops int, spend, limit, remaining float64) []string {
	if limit <= 0 {
		return []string{window, fmt.Sprint(ops), fmt.Sprintf("$%.3f", spend), "unlimited", "-"}
	}
	return []string{window, fmt.Sprint(ops), fmt.Sprintf("$%.3f", spend), fmt.Sprintf("$%.2f", limit), fmt.Sprintf("$%.3f", remaining)}
}
