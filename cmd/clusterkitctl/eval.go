package main

import (
	"fmt"

	ui "clusterkit/internal/clusterkitui"
	"clusterkit/internal/controlapi"

	"github.com/spf13/cobra"
)

func evalCmd(socketPath *string) *cobra.Command {
	var clusterID int
	var timeoutMS int64

	cmd := &cobra.Command{
		Use:   "eval <script>",
		Short: "Broadcast a named script to every cluster, or one with --cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*socketPath)
			req := controlapi.Request{Op: "broadcastEval", Script: args[0], TimeoutMS: timeoutMS}
			if cmd.Flags().Changed("cluster") {
				req.ClusterID = &clusterID
			}

			resp, err := client.Call(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !resp.OK {
				fmt.Println(ui.ErrorMsg("%s", resp.Error))
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("%v\n", resp.Result)
			return nil
		},
	}

	cmd.Flags().IntVar(&clusterID, "cluster", 0, "Restrict eval to one cluster id")
	cmd.Flags().Int64Var(&timeoutMS, "timeout-ms", 10000, "Request timeout in milliseconds")
	return cmd
}
