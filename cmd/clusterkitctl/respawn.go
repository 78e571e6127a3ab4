package main

import (
	"fmt"

	ui "clusterkit/internal/clusterkitui"
	"clusterkit/internal/controlapi"

	"github.com/spf13/cobra"
)

func respawnCmd(socketPath *string) *cobra.Command {
	var clusterID int

	cmd := &cobra.Command{
		Use:   "respawn",
		Short: "Respawn one cluster with --cluster, or the whole fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := controlapi.NewClient(*socketPath)
			req := controlapi.Request{Op: "respawnAll"}
			if cmd.Flags().Changed("cluster") {
				req.Op = "respawnOne"
				req.ClusterID = &clusterID
			}

			resp, err := client.Call(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Println(ui.SuccessMsg("respawn requested"))
			return nil
		},
	}

	cmd.Flags().IntVar(&clusterID, "cluster", 0, "Respawn only this cluster id")
	return cmd
}
