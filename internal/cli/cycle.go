package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one evaluation cycle over every active alert",
	RunE:  runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
	cycleCmd.Flags().Bool("json", false, "Print the cycle report as JSON")
}

func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.RunCycle(cmd.Context())
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	if asJSON {
		return printJSON(report)
	}

	fmt.Printf("=== Evaluation Cycle ===\n")
	fmt.Printf("Active alerts: %d\n", report.Active)
	fmt.Printf("Prices stored: %d\n", report.Written)
	fmt.Printf("Failed:        %d\n", report.Failed)
	fmt.Printf("Skipped:       %d\n", report.Skipped)
	fmt.Printf("Triggered:     %d\n", report.Triggered)
	fmt.Printf("Notified:      %d\n", report.Notified)
	fmt.Printf("Deactivated:   %d\n", report.Deactivated)
	fmt.Printf("Duration:      %s\n", report.Duration.Round(time.Millisecond))

	return nil
}
