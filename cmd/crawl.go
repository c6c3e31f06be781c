package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/scheduler"
)

type crawlFlags struct {
	slugs        []string
	district     string
	neighborhood string
	allStale     bool
	urgent       bool
}

func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Schedules fetches and drains the queue",
		Long: `Enqueues the selected restaurants and runs the scheduler until the
queue is empty. Targets are selected with --slug, --district,
--neighborhood, or --all-stale.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.slugs, "slug", nil, "restaurant slug to fetch (repeatable)")
	cmd.Flags().StringVar(&flags.district, "district", "", "fetch every restaurant in a district")
	cmd.Flags().StringVar(&flags.neighborhood, "neighborhood", "", "fetch every restaurant in a neighborhood")
	cmd.Flags().BoolVar(&flags.allStale, "all-stale", false, "fetch every restaurant with stale data")
	cmd.Flags().BoolVar(&flags.urgent, "urgent", false, "schedule at urgent priority")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, flags *crawlFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	priority := scheduler.PriorityNormal
	if flags.urgent {
		priority = scheduler.PriorityUrgent
	}

	scheduled, err := scheduleTargets(ctx, a.Scheduler, flags, priority)
	if err != nil {
		return err
	}
	if scheduled == 0 {
		logger.Info("nothing to fetch")
		return nil
	}

	report, err := a.Scheduler.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run scheduler: %w", err)
	}
	logger.Info("crawl finished",
		zap.String("run_id", report.RunID),
		zap.Duration("runtime", report.Runtime),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("abandoned", report.Abandoned))
	return nil
}

func scheduleTargets(ctx context.Context, sched *scheduler.Scheduler, flags *crawlFlags, priority scheduler.Priority) (int, error) {
	switch {
	case len(flags.slugs) > 0:
		scheduled := 0
		for _, slug := range flags.slugs {
			ok, err := sched.Schedule(ctx, slug, priority, 0)
			if err != nil {
				return scheduled, fmt.Errorf("schedule %q: %w", slug, err)
			}
			if ok {
				scheduled++
			}
		}
		return scheduled, nil
	case flags.district != "":
		return sched.ScheduleDistrict(ctx, flags.district, priority)
	case flags.neighborhood != "":
		return sched.ScheduleNeighborhood(ctx, flags.neighborhood, priority)
	case flags.allStale:
		return sched.ScheduleAllStale(ctx)
	default:
		return 0, errors.New("one of --slug, --district, --neighborhood, or --all-stale is required")
	}
}
