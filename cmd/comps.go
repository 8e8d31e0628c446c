package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/dealdesk/internal/comps"
)

var compsCmd = &cobra.Command{
	Use:   "comps",
	Short: "Search and list comparable properties",
}

var compsSearchCmd = &cobra.Command{
	Use:   "search <deal-id>",
	Short: "Fetch comps from all providers and replace the stored set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		found, err := env.Comps.SearchComps(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), found)
	},
}

var compsListCmd = &cobra.Command{
	Use:   "list <deal-id>",
	Short: "List stored comps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		found, err := comps.NewCombinator(st).ListComps(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), found)
	},
}

func init() {
	compsCmd.AddCommand(compsSearchCmd, compsListCmd)
	rootCmd.AddCommand(compsCmd)
}
