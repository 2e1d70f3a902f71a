package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/events"
	"github.com/spigell/jobhunter/internal/jobs"
)

var applicationsCmd = &cobra.Command{
	Use:     "applications",
	Aliases: []string{"apps"},
	Short:   "Inspect applications and record what happened to them",
}

var applicationsListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List applications, newest first",
	Annotations: map[string]string{annotationPrintsData: ""},
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger, cfg := setup(cmd)

		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close()

		var status jobs.Status
		if raw, _ := cmd.Flags().GetString("status"); raw != "" {
			if status, err = jobs.ParseStatus(raw); err != nil {
				logger.Fatal("parsing status", zap.Error(err))
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")

		apps, err := st.ListApplications(ctx, status, limit)
		if err != nil {
			logger.Fatal("listing applications", zap.Error(err))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tCHANNEL\tCOMPANY\tTITLE")
		for _, a := range apps {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", a.ID, a.Status, a.Attempts, a.Channel, a.Company, a.Title)
		}
		w.Flush()
	},
}

var applicationsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Move an application to interview, rejected or accepted",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger, cfg := setup(cmd)

		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close()

		app, err := st.GetApplication(ctx, args[0])
		if err != nil {
			logger.Fatal("getting application", zap.Error(err), zap.String("id", args[0]))
		}

		raw, _ := cmd.Flags().GetString("to")
		if raw == "" {
			raw, err = pickStatus(app.Status)
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		to, err := jobs.ParseStatus(raw)
		if err != nil {
			logger.Fatal("parsing status", zap.Error(err))
		}

		updated, err := st.UpdateApplicationStatus(ctx, app.ID, to)
		if err != nil {
			logger.Fatal("updating application", zap.Error(err),
				zap.String("from", string(app.Status)),
				zap.String("to", string(to)),
			)
		}

		events.New(st, logger, cfg.Events.MaxEntries).Info(ctx, "cli", "application status updated", map[string]any{
			"application_id": updated.ID,
			"status":         string(updated.Status),
		})
	},
}

func pickStatus(current jobs.Status) (string, error) {
	var items []string
	for _, next := range current.Next() {
		if next.IsManual() {
			items = append(items, string(next))
		}
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no manual status change is possible from %s", current)
	}

	prompt := promptui.Select{
		Label: fmt.Sprintf("Current status is %s. Move to", current),
		Items: items,
	}
	_, picked, err := prompt.Run()
	return picked, err
}

func init() {
	rootCmd.AddCommand(applicationsCmd)
	applicationsCmd.AddCommand(applicationsListCmd, applicationsStatusCmd)

	applicationsListCmd.Flags().StringP("status", "s", "", "show only applications with this status")
	applicationsListCmd.Flags().IntP("limit", "n", 50, "how many applications to show")

	applicationsStatusCmd.Flags().String("to", "", "new status (asked interactively when unset)")
}
