package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/king0929zion/Zigent-sub000/internal/llmclient"
	"github.com/king0929zion/Zigent-sub000/internal/observability"
	"github.com/king0929zion/Zigent-sub000/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Generate and print the plan for a goal without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := observability.GetLogger()

		llm, err := llmclient.NewClient(cmd.Context(), cfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("failed to build LLM client: %w", err)
		}

		plan := planner.New(llm, cfg.Planner, logger).Plan(cmd.Context(), goal, "")

		fmt.Printf("Goal: %s\n", plan.OriginalGoal)
		if plan.RefinedGoal != "" && plan.RefinedGoal != plan.OriginalGoal {
			fmt.Printf("Refined: %s\n", plan.RefinedGoal)
		}
		if plan.TargetApp != "" {
			fmt.Printf("Target app: %s\n", plan.TargetApp)
		}
		fmt.Printf("Complexity: %s\n", plan.Complexity)
		if plan.RequiresConfirmation {
			fmt.Println("Requires confirmation: yes")
		}
		for _, risk := range plan.Risks {
			fmt.Printf("Risk: %s\n", risk)
		}
		fmt.Println("Steps:")
		for _, step := range plan.Steps {
			optional := ""
			if step.IsOptional {
				optional = " (optional)"
			}
			fmt.Printf("  %d. %s%s\n", step.Index+1, step.Description, optional)
			if step.VerificationCondition != "" {
				fmt.Printf("     verify: %s\n", step.VerificationCondition)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
