package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synnergy/redisx/resp"
)

var setExpireSeconds int

func runSet(cmd *cobra.Command, args []string) error {
	cmdArgs := []string{"SET", args[0], args[1]}
	if setExpireSeconds > 0 {
		cmdArgs = append(cmdArgs, "EX", fmt.Sprintf("%d", setExpireSeconds))
	}
	v, err := rdx.Call(context.Background(), resp.NewCommand(cmdArgs...), time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatReply(v))
	return nil
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set the value of a key",
	Args:  cobra.ExactArgs(2),
	RunE:  runSet,
}

func init() {
	setCmd.Flags().IntVar(&setExpireSeconds, "ex", 0, "expire after this many seconds")
	rootCmd.AddCommand(setCmd)
}
