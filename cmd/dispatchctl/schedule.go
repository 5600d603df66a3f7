package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldcrew/backend/internal/service"
)

var scheduleFlags struct {
	provider  string
	date      string
	jobs      []string
	exclude   []string
	createdBy string
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the scheduler for one provider and day and print the result as JSON",
	RunE:  runSchedule,
}

func init() {
	f := scheduleCmd.Flags()
	f.StringVar(&scheduleFlags.provider, "provider", "", "provider id")
	f.StringVar(&scheduleFlags.date, "date", time.Now().Format(time.DateOnly), "day to schedule (YYYY-MM-DD)")
	f.StringSliceVar(&scheduleFlags.jobs, "jobs", nil, "schedule only these job ids")
	f.StringSliceVar(&scheduleFlags.exclude, "exclude", nil, "worker ids to leave out")
	f.StringVar(&scheduleFlags.createdBy, "created-by", "dispatchctl", "recorded on the proposal")
	_ = scheduleCmd.MarkFlagRequired("provider")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	date, err := time.Parse(time.DateOnly, scheduleFlags.date)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, runErr := a.Scheduler.ScheduleJobsForDate(ctx, scheduleFlags.provider, date, service.Options{
		JobIDs:           scheduleFlags.jobs,
		ExcludeWorkerIDs: scheduleFlags.exclude,
		CreatedBy:        scheduleFlags.createdBy,
	})
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return runErr
}
