package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

var searchCmd = &cobra.Command{
	Use:   "search AREA CHECK_IN CHECK_OUT",
	Short: "Search the cheapest hotels for a stay",
	Long:  `Search hotel prices in a supported London area. Dates use the YYYY-MM-DD format.`,
	Args:  cobra.ExactArgs(3),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Int64P("user", "u", 0, "User id the search is counted against")
	searchCmd.Flags().IntP("guests", "g", 0, "Number of adult guests (default from config)")
	searchCmd.Flags().Bool("json", false, "Print results as JSON")
	_ = searchCmd.MarkFlagRequired("user")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")
	guests, _ := cmd.Flags().GetInt("guests")
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

	quotes, err := a.watcher.Search(cmd.Context(), userID, args[0], in, out, guests)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if asJSON {
		return printJSON(quotes)
	}

	fmt.Printf("Hotels in %s, %s to %s (%d nights):\n\n", args[0], model.FormatDate(in), model.FormatDate(out), model.Nights(in, out))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  #\tHOTEL\tPER NIGHT\tSOURCE\n")
	for i, q := range quotes {
		fmt.Fprintf(w, "  %d\t%s\t%s %s\t%s\n", i+1, q.HotelName, q.NightlyPrice.StringFixed(2), q.Currency, q.Source)
	}
	w.Flush()

	return nil
}

func parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := model.ParseDate(checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	out, err := model.ParseDate(checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return in, out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
