package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/dispatcher"
	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/scheduler"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var confirm = promptui.Select{
	Label: "Procced?",
	Items: []string{PromptYes, PromptNo},
}

var applyCmd = &cobra.Command{
	Use:         "apply",
	Short:       "Apply to the best matching postings within today's quota",
	Annotations: map[string]string{annotationPrintsData: ""},
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, cfg := setup(cmd)

		e, err := newEngine(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("building the engine", zap.Error(err))
		}
		defer e.close()

		candidates, considered, err := e.dispatcher.Candidates(ctx)
		if err != nil {
			logger.Fatal("selecting candidates", zap.Error(err))
		}

		snap, err := e.quota.Snapshot(ctx)
		if err != nil {
			logger.Fatal("reading the quota", zap.Error(err))
		}

		steps, err := e.dispatcher.Filters()
		if err != nil {
			logger.Fatal("describing eligibility filters", zap.Error(err))
		}
		logger.Debug("eligibility filters", zap.Any("steps", steps))
		logger.Info("current list of candidates",
			zap.Int("count", len(candidates)),
			zap.Int("considered", considered),
			zap.Int("quota_left", snap.Remaining()),
		)

		if len(candidates) == 0 {
			logger.Info("exiting", zap.String("reason", "no postings to apply to"))
			return
		}
		if snap.Remaining() == 0 {
			logger.Info("exiting", zap.String("reason", "daily quota exhausted"))
			return
		}

		printCandidates(e.dispatcher, candidates, snap.Remaining())

		if auto, _ := cmd.Flags().GetBool("auto-approve"); !auto {
			_, action, err := confirm.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
			if action != PromptYes {
				logger.Info("exiting", zap.String("reason", "got no from prompt"))
				return
			}
		}

		// RunOnce takes the cycle lock. With redis configured a running daemon
		// and this command never apply at the same time.
		if err := e.scheduler.RunOnce(ctx, scheduler.CycleApply); err != nil {
			logger.Error("apply cycle", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation")
}

// printCandidates shows the postings the quota allows today, in send order.
func printCandidates(d *dispatcher.Dispatcher, candidates []jobs.Posting, left int) {
	for i, p := range candidates {
		if i == left {
			fmt.Printf("... and %d more over today's quota\n", len(candidates)-left)
			return
		}
		route := d.RouteFor(p)
		fmt.Printf("%2d. [%.2f] %s at %s via %s (%s)\n", i+1, p.Score(), p.Title, p.Company, route.Channel, p.URL)
	}
}
