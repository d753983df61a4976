package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/synnergy/redisx/exec"
)

var subscribePattern bool

func runSubscribe(cmd *cobra.Command, args []string) error {
	kind := exec.Channel
	if subscribePattern {
		kind = exec.Pattern
	}

	w := cmd.OutOrStdout()
	sub, err := rdx.Subscribe(context.Background(), kind, args, func(m exec.Message) {
		if m.Pattern != "" {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Kind, m.Pattern, m.Payload)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Kind, m.Channel, m.Payload)
		}
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return sub.Close()
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <channel...>",
	Short: "Subscribe to one or more channels until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubscribe,
}

func init() {
	subscribeCmd.Flags().BoolVar(&subscribePattern, "pattern", false, "treat arguments as PSUBSCRIBE patterns")
	rootCmd.AddCommand(subscribeCmd)
}
