package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

var trendCmd = &cobra.Command{
	Use:   "trend AREA CHECK_IN CHECK_OUT",
	Short: "Summarise recorded prices for a stay",
	Long:  `Summarise every price recorded for a stay across all alerts watching it.`,
	Args:  cobra.ExactArgs(3),
	RunE:  runTrend,
}

func init() {
	rootCmd.AddCommand(trendCmd)
	trendCmd.Flags().Int64P("user", "u", 0, "User id the request is counted against")
	trendCmd.Flags().IntP("days", "d", 30, "Days of history to include")
	trendCmd.Flags().Bool("json", false, "Print the trend as JSON")
	_ = trendCmd.MarkFlagRequired("user")
}

func runTrend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")
	days, _ := cmd.Flags().GetInt("days")
	asJSON, _ := cmd.Flags().GetBool("json")

	in, out, err := parseStay(args[1], args[2])
	if err != nil {
		return err
	}

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	trend, err := a.watcher.Trend(cmd.Context(), userID, args[0], in, out, days)
	if err != nil {
		return fmt.Errorf("trend: %w", err)
	}

	if asJSON {
		return printJSON(trend)
	}

	fmt.Printf("=== Price Trend: %s ===\n", trend.Area)
	fmt.Printf("Stay: %s to %s\n\n", model.FormatDate(trend.CheckIn), model.FormatDate(trend.CheckOut))
	if trend.Count == 0 {
		fmt.Println("No prices recorded in this period.")
		return nil
	}
	fmt.Printf("Observations: %d\n", trend.Count)
	fmt.Printf("Lowest:       %s %s\n", trend.Min.StringFixed(2), trend.Currency)
	fmt.Printf("Highest:      %s %s\n", trend.Max.StringFixed(2), trend.Currency)
	fmt.Printf("Average:      %s %s\n", trend.Average.StringFixed(2), trend.Currency)
	fmt.Printf("Latest:       %s %s\n", trend.Latest.StringFixed(2), trend.Currency)
	fmt.Printf("Direction:    %s\n", trend.Direction)

	return nil
}
