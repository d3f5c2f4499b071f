package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage recurring cron job definitions",
}

func init() {
	var (
		name, topic, cronExpr, payload string
	)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create or update a job's schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.jobs.CreateOrUpdateJob(cmd.Context(), name, topic, cronExpr, []byte(payload)); err != nil {
				return err
			}
			fmt.Printf("job %q scheduled (%s)\n", name, cronExpr)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&name, "name", "n", "", "job name (required)")
	createCmd.Flags().StringVarP(&topic, "topic", "t", "", "handler topic to dispatch on (required)")
	createCmd.Flags().StringVarP(&cronExpr, "cron", "c", "", "5-field cron expression (required)")
	createCmd.Flags().StringVarP(&payload, "payload", "p", "", "literal payload bytes to attach to every run")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("topic")
	_ = createCmd.MarkFlagRequired("cron")

	deleteCmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a job definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.jobs.DeleteJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("job %q deleted\n", args[0])
			return nil
		},
	}

	triggerCmd := &cobra.Command{
		Use:   "trigger [name]",
		Short: "Materialize one job run immediately, as if its schedule had just fired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := current.jobs.TriggerJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			inserted, err := current.jobRuns.InsertRun(cmd.Context(), job.Name, job.Topic, job.Payload, now, now)
			if err != nil {
				return err
			}
			if !inserted {
				fmt.Printf("job %q already has a run scheduled for this instant\n", job.Name)
				return nil
			}
			fmt.Printf("job %q run inserted for dispatch\n", job.Name)
			return nil
		},
	}

	jobsCmd.AddCommand(createCmd, deleteCmd, triggerCmd)
}
