package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"clusterkit/internal/clustermanager"
	"clusterkit/internal/controlapi"
	ui "clusterkit/internal/clusterkitui"

	"github.com/spf13/cobra"
)

func statusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every cluster's readiness, shard list, and heartbeat state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*socketPath)
			resp, err := client.Call(cmd.Context(), controlapi.Request{Op: "status"})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}

			raw, err := json.Marshal(resp.Result)
			if err != nil {
				return err
			}
			var rows []clustermanager.ClusterStatus
			if err := json.Unmarshal(raw, &rows); err != nil {
				return err
			}

			headers := []string{"cluster", "ready", "shards", "missed", "restarts"}
			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				table = append(table, []string{
					strconv.Itoa(row.ID),
					ui.Bool(row.Ready),
					fmt.Sprintf("%v", row.Shards),
					strconv.Itoa(row.Missed),
					strconv.Itoa(row.Restart),
				})
			}
			fmt.Println(ui.Table(headers, table))
			return nil
		},
	}
}
