package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "Manage one-shot scheduled work",
}

func init() {
	var (
		topic, payload, dueIn string
	)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a one-shot timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, err := time.ParseDuration(dueIn)
			if err != nil {
				return fmt.Errorf("--due-in must be a Go duration (e.g. 90s, 5m): %w", err)
			}
			id, err := current.timers.ScheduleTimer(cmd.Context(), topic, []byte(payload), time.Now().Add(delay))
			if err != nil {
				return err
			}
			fmt.Printf("timer %s scheduled, due in %s\n", id, delay)
			return nil
		},
	}
	scheduleCmd.Flags().StringVarP(&topic, "topic", "t", "", "handler topic to dispatch on (required)")
	scheduleCmd.Flags().StringVarP(&payload, "payload", "p", "", "literal payload bytes")
	scheduleCmd.Flags().StringVarP(&dueIn, "due-in", "d", "0s", "delay before the timer fires, as a Go duration")
	_ = scheduleCmd.MarkFlagRequired("topic")

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a timer that has not yet been claimed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.timers.CancelTimer(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("timer %s cancelled\n", args[0])
			return nil
		},
	}

	timersCmd.AddCommand(scheduleCmd, cancelCmd)
}
