package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synnergy/redisx/resp"
)

func runGet(cmd *cobra.Command, args []string) error {
	v, err := rdx.Call(context.Background(), resp.NewCommand("GET", args[0]), time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatReply(v))
	return nil
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the value of a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}
