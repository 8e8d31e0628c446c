package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/orchestrator"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run or inspect a deal's stage pipeline",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <deal-id>",
	Short: "Run the pipeline to completion in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		dealID := args[0]
		go func() {
			<-ctx.Done()
			env.Orchestrator.Cancel(dealID)
		}()

		state, err := env.Orchestrator.Run(cmd.Context(), dealID)
		zap.L().Info("pipeline finished", zap.String("deal_id", dealID), zap.String("state", string(state)))
		if err != nil {
			return err
		}

		status, err := env.Orchestrator.Status(cmd.Context(), dealID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <deal-id>",
	Short: "Show the persisted pipeline state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, err := orchestrator.New(st, nil, nil, nil).Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

func init() {
	pipelineCmd.AddCommand(pipelineRunCmd, pipelineStatusCmd)
	rootCmd.AddCommand(pipelineCmd)
}
