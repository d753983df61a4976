package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synnergy/redisx/cluster"
	"github.com/synnergy/redisx/resp"
)

func runClusterSlots(cmd *cobra.Command, _ []string) error {
	v, err := rdx.Call(context.Background(), resp.NewCommand("CLUSTER", "SLOTS"), time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatReply(v))
	return nil
}

func runClusterKeySlot(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), cluster.KeySlot(args[0]))
	return nil
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster topology commands",
}

var clusterSlotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Show the server's CLUSTER SLOTS reply",
	Args:  cobra.NoArgs,
	RunE:  runClusterSlots,
}

var clusterKeySlotCmd = &cobra.Command{
	Use:   "keyslot <key>",
	Short: "Print the hash slot a key maps to, without contacting the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterKeySlot,
}

func init() {
	clusterCmd.AddCommand(clusterSlotsCmd, clusterKeySlotCmd)
	rootCmd.AddCommand(clusterCmd)
}
