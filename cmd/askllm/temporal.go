package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/temporal"
	"github.com/helixir/ask-llm/internal/temporal/workflows"
)

func dialBatchClient(cfg *config.Config) (*temporal.BatchClient, error) {
	clientCfg := temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		TaskQueue: cfg.Temporal.TaskQueue,
	}
	c, err := temporal.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}
	return temporal.NewBatchClient(c, clientCfg), nil
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit NAME [inputs...]",
		Short: "Run the batch on a Temporal worker",
		Long: `submit starts a batch workflow named NAME on the configured task queue.
The worker resolves the inputs, processes one document per activity and
resumes from its checkpoint after restarts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			bc, err := dialBatchClient(cfg)
			if err != nil {
				return err
			}
			defer bc.Close()

			ctx := cmd.Context()
			workflowID, runID, err := bc.StartBatch(ctx, args[0], workflows.BatchWorkflow, temporal.BatchWorkflowInput{Inputs: args[1:]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s (run %s)\n", workflowID, runID)

			if wait, _ := cmd.Flags().GetBool("wait"); !wait {
				return nil
			}
			res, err := bc.Result(ctx, workflowID)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Bool("wait", false, "wait for the workflow and print its result")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop a submitted batch after the document in flight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			bc, err := dialBatchClient(cfg)
			if err != nil {
				return err
			}
			defer bc.Close()
			return bc.Stop(cmd.Context(), temporal.WorkflowID(args[0]), "requested from the command line")
		},
	}
}

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress NAME",
		Short: "Print the progress of a submitted batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			bc, err := dialBatchClient(cfg)
			if err != nil {
				return err
			}
			defer bc.Close()
			p, err := bc.Progress(cmd.Context(), temporal.WorkflowID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
