package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend AREA CHECK_IN CHECK_OUT",
	Short: "Ask for a hotel recommendation for a stay",
	Args:  cobra.ExactArgs(3),
	RunE:  runRecommend,
}

func init() {
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.Flags().Int64P("user", "u", 0, "User id the request is counted against")
	recommendCmd.Flags().StringP("question", "q", "", "Extra question for the assistant")
	_ = recommendCmd.MarkFlagRequired("user")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, _ := cmd.Flags().GetInt64("user")
	question, _ := cmd.Flags().GetString("question")

	in, out, err := parseStay(args[1], args[2])
	if err != nil {
		return err
	}

	a, err := initApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.watcher.Recommend(cmd.Context(), userID, args[0], in, out, question)
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}

	fmt.Println(rec.Text)
	return nil
}
