package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "List supported neighborhoods",
	RunE:  runAreas,
}

func init() {
	rootCmd.AddCommand(areasCmd)
}

func runAreas(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	table, err := areas.Load(cfg.Areas.File)
	if err != nil {
		return fmt.Errorf("load areas: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "KEY\tNAME\tLOCATION\tBASE PRICE (%s)\n", table.Currency())
	for _, a := range table.All() {
		fmt.Fprintf(w, "%s\t%s\t%.4f,%.4f\t%.2f\n", a.Key, a.Name, a.Latitude, a.Longitude, a.BasePrice)
	}
	w.Flush()

	return nil
}
