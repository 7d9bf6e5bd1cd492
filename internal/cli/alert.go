package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage price-drop alerts",
}

var alertCreateCmd = &cobra.Command{
	Use:   "create AREA CHECK_IN CHECK_OUT",
	Short: "Watch a stay and notify when the nightly price drops to a ceiling",
	Args:  cobra.ExactArgs(3),
	RunE:  runAlertCreate,
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE:  runAlertList,
}

var alertDeactivateCmd = &cobra.Command{
	Use:   "deactivate ALERT_ID",
	Short: "Stop an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertDeactivate,
}

var alertHistoryCmd = &cobra.Command{
	Use:   "history ALERT_ID",
	Short: "Show recorded prices for an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertHistory,
}

var alertCheckCmd = &cobra.Command{
	Use:   "check ALERT_ID",
	Short: "Price an alert now",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertCheck,
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertCreateCmd, alertListCmd, alertDeactivateCmd, alertHistoryCmd, alertCheckCmd)

	alertCmd.PersistentFlags().Int64P("user", "u", 0, "User id owning the alerts")
	_ = alertCmd.MarkPersistentFlagRequired("user")

	alertCreateCmd.Flags().StringP("max-price", "m", "", "Nightly price ceiling")
	_ = alertCreateCmd.MarkFlagRequired("max-price")
	alertCreateCmd.Flags().IntP("guests", "g", 0, "Number of adult guests (default from config)")

	alertListCmd.Flags().BoolP("all", "a", false, "Include deactivated alerts")
	alertHistoryCmd.Flags().IntP("days", "d", 30, "Days of history to show")
}

func runAlertCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")
	maxPrice, _ := cmd.Flags().GetString("max-price")
	guests, _ := cmd.Flags().GetInt("guests")

	ceiling, err := decimal.NewFromString(maxPrice)
	if err != nil {
		return fmt.Errorf("%w: max price %q is not a number", model.ErrValidation, maxPrice)
	}
	in, out, err := parseStay(args[1], args[2])
	if err != nil {
		return err
	}

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	alert, err := a.watcher.CreateAlert(cmd.Context(), userID, args[0], in, out, ceiling, guests)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	fmt.Printf("Alert created:\n")
	fmt.Printf("  ID:        %s\n", alert.ID)
	fmt.Printf("  Area:      %s\n", alert.Area)
	fmt.Printf("  Stay:      %s to %s\n", model.FormatDate(alert.CheckIn), model.FormatDate(alert.CheckOut))
	fmt.Printf("  Guests:    %d\n", alert.Guests)
	fmt.Printf("  Max price: %s %s per night\n", alert.MaxPrice.StringFixed(2), a.areas.Currency())

	return nil
}

func runAlertList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")
	all, _ := cmd.Flags().GetBool("all")

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	alerts, err := a.watcher.ListAlerts(cmd.Context(), userID, all)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}
	if len(alerts) == 0 {
		fmt.Println("No alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tAREA\tCHECK-IN\tCHECK-OUT\tGUESTS\tMAX PRICE\tSTATUS\tLAST CHECKED\n")
	for _, al := range alerts {
		status := "active"
		if !al.Active {
			status = "inactive (" + al.DeactivationReason + ")"
		}
		lastChecked := "-"
		if !al.LastCheckedAt.IsZero() {
			lastChecked = al.LastCheckedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			al.ID, al.Area,
			model.FormatDate(al.CheckIn), model.FormatDate(al.CheckOut), al.Guests,
			al.MaxPrice.StringFixed(2), status, lastChecked,
		)
	}
	w.Flush()

	return nil
}

func runAlertDeactivate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.watcher.DeactivateAlert(cmd.Context(), userID, args[0]); err != nil {
		return fmt.Errorf("deactivate alert: %w", err)
	}
	fmt.Printf("Alert %s deactivated.\n", args[0])
	return nil
}

func runAlertHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")
	days, _ := cmd.Flags().GetInt("days")

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.watcher.AlertHistory(cmd.Context(), userID, args[0], days)
	if err != nil {
		return fmt.Errorf("alert history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No prices recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RETRIEVED\tHOTEL\tPER NIGHT\tSOURCE\tTRIGGERED\tNOTIFIED\n")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%t\t%t\n",
			e.Quote.RetrievedAt.Format("2006-01-02 15:04"),
			e.Quote.HotelName,
			e.Quote.NightlyPrice.StringFixed(2), e.Quote.Currency,
			e.Quote.Source, e.Triggered, e.Notified,
		)
	}
	w.Flush()

	return nil
}

func runAlertCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.watcher.CheckAlert(cmd.Context(), userID, args[0])
	if err != nil {
		return fmt.Errorf("check alert: %w", err)
	}

	q := res.Quote
	fmt.Printf("Alert %s:\n", res.AlertID)
	fmt.Printf("  Hotel:     %s\n", q.HotelName)
	fmt.Printf("  Price:     %s %s per night (%s)\n", q.NightlyPrice.StringFixed(2), q.Currency, q.Source)
	fmt.Printf("  Triggered: %t\n", res.Triggered)
	fmt.Printf("  Notified:  %t\n", res.Notified)

	return nil
}
