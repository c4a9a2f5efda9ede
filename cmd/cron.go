package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/cron"
)

func openCronStore() (*cron.Store, error) {
	return cron.NewStore(filepath.Join(config.DataDir(), "jobs.json"))
}

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd(), cronAddCmd(), cronRemoveCmd(), cronToggleCmd(true), cronToggleCmd(false))
	return cmd
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return err
			}
			jobs := store.List()
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tFAILURES")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\n",
					job.ID, job.Name, describeSchedule(job.Schedule), job.Enabled, job.NextRunAt, job.FailureCount)
			}
			return w.Flush()
		},
	}
}

func describeSchedule(sc cron.Schedule) string {
	switch sc.Kind {
	case cron.ScheduleEvery:
		return fmt.Sprintf("every %dm", sc.EveryMS/60000)
	case cron.ScheduleCron:
		return "cron " + sc.CronExpr
	case cron.ScheduleAt:
		return "at " + sc.At
	}
	return sc.Kind
}

func cronAddCmd() *cobra.Command {
	var (
		message  string
		cronExpr string
		everyMin int
		at       string
		deliver  bool
		channel  string
		chatID   string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return err
			}
			sc := cron.Schedule{}
			switch {
			case cronExpr != "":
				sc.Kind = cron.ScheduleCron
				sc.CronExpr = cronExpr
			case everyMin > 0:
				sc.Kind = cron.ScheduleEvery
				sc.EveryMS = int64(everyMin) * 60 * 1000
			case at != "":
				sc.Kind = cron.ScheduleAt
				sc.At = at
			default:
				return fmt.Errorf("one of --cron, --every, or --at is required")
			}
			job, err := store.Add(&cron.Job{
				Name:     args[0],
				Schedule: sc,
				Payload:  cron.Payload{Kind: cron.KindDirectMessage, Message: message},
				Deliver:  deliver,
				Channel:  channel,
				ChatID:   chatID,
			})
			if err != nil {
				return err
			}
			fmt.Printf("added %s (%s), next run %s\n", job.Name, job.ID, job.NextRunAt)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message the job injects when it fires")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression schedule")
	cmd.Flags().IntVar(&everyMin, "every", 0, "fixed interval in minutes")
	cmd.Flags().StringVar(&at, "at", "", "one-shot RFC3339 timestamp")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "send the result to a channel instead of self-ingesting")
	cmd.Flags().StringVar(&channel, "channel", "", "delivery channel (with --deliver)")
	cmd.Flags().StringVar(&chatID, "chat", "", "delivery chat id (with --deliver)")
	cmd.MarkFlagRequired("message")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id-or-name>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func cronToggleCmd(enable bool) *cobra.Command {
	use, short := "enable <id-or-name>", "Enable a scheduled job"
	if !enable {
		use, short = "disable <id-or-name>", "Disable a scheduled job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return err
			}
			if err := store.SetEnabled(args[0], enable); err != nil {
				return err
			}
			fmt.Printf("%s: enabled=%t\n", args[0], enable)
			return nil
		},
	}
}
