package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synnergy/redisx/resp"
)

func runPing(cmd *cobra.Command, args []string) error {
	pingArgs := append([]string{"PING"}, args...)
	v, err := rdx.Call(context.Background(), resp.NewCommand(pingArgs...), time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatReply(v))
	return nil
}

var pingCmd = &cobra.Command{
	Use:   "ping [message]",
	Short: "Ping the server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
