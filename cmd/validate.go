package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var validatePhase string

var validateCmd = &cobra.Command{
	Use:   "validate <deal-id>",
	Short: "Validate a deal's extracted fields against market research",
	Long:  "Runs the research agent over the deal's numeric claims. Without --phase, runs quick then deep.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phases, err := phasesFor(validatePhase)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		dealID := args[0]
		for _, phase := range phases {
			got, err := env.Validation.ValidateFields(cmd.Context(), dealID, phase)
			if err != nil {
				return err
			}
			zap.L().Info("validation phase complete",
				zap.String("deal_id", dealID),
				zap.String("phase", string(phase)),
				zap.Int("validations", len(got)),
			)
		}

		validations, err := env.Validation.ListValidations(cmd.Context(), dealID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), validations)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validatePhase, "phase", "", "quick or deep (default: quick then deep)")
	rootCmd.AddCommand(validateCmd)
}
