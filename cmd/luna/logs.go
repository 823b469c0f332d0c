package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "track",
	Short:   "Record and review daily logs",
}

var logAddFlags struct {
	date     string
	flow     string
	symptoms []string
	mood     []string
	notes    string
}

var logAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record how a day went",
	Long: `Record flow, symptoms, mood and notes for a day. A day has at most one
log: adding to a day that already has one updates it in place.

Examples:
  luna log add --flow heavy --symptoms cramps,fatigue
  luna log add --date yesterday --mood calm --notes "slept well"`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		date, err := parseDate(logAddFlags.date, time.Now())
		if err != nil {
			fail(nil, "%v", err)
		}
		a, user := mustOpen(ctx, false)
		defer a.close()

		l, err := a.services.DailyLogs.GetByDate(user, date)
		if errors.Is(err, records.ErrNotFound) {
			l = &schema.DailyLog{UserID: user, Date: date}
		} else if err != nil {
			fail(a, "%v", err)
		}

		changed := cmd.Flags().Changed
		if changed("flow") {
			l.Flow = schema.Flow(strings.ToLower(logAddFlags.flow))
		}
		if changed("symptoms") {
			l.Symptoms = schema.StringList(logAddFlags.symptoms)
		}
		if changed("mood") {
			l.Mood = schema.TagSet(logAddFlags.mood)
		}
		if changed("notes") {
			l.Notes = logAddFlags.notes
		}

		if _, err := a.services.DailyLogs.Save(ctx, l); err != nil {
			fail(a, "%v", err)
		}
		fmt.Printf("%s Logged %s\n", ui.RenderPass("✓"), date)
	},
}

var logShowFormat string

var logShowCmd = &cobra.Command{
	Use:   "show [date]",
	Short: "Show the log for a day (default today)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		date, err := parseDate(strings.Join(args, " "), time.Now())
		if err != nil {
			fail(nil, "%v", err)
		}
		a, user := mustOpen(context.Background(), false)
		defer a.close()

		l, err := a.services.DailyLogs.GetByDate(user, date)
		if errors.Is(err, records.ErrNotFound) {
			fmt.Printf("%s Nothing logged on %s\n", ui.RenderMuted("·"), date)
			return
		}
		if err != nil {
			fail(a, "%v", err)
		}
		if done, err := writeStructured(os.Stdout, logShowFormat, l); done {
			if err != nil {
				fail(a, "%v", err)
			}
			return
		}
		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📅"), ui.RenderBold(string(l.Date)))
		fmt.Printf("   Flow: %s\n", l.Flow)
		fmt.Printf("   Symptoms: %s\n", orDash(strings.Join(l.Symptoms, ", ")))
		fmt.Printf("   Mood: %s\n", orDash(l.Mood.String()))
		if l.Notes != "" {
			fmt.Printf("   Notes: %s\n", l.Notes)
		}
		fmt.Printf("   Synced: %s%s\n\n", ui.YesNo(l.Synced), pendingNote(a, schema.TableDailyLogs, l.ID))
	},
}

// pendingNote describes the queued changes of a record not yet pushed.
func pendingNote(a *app, table, id string) string {
	n := len(a.queue.ForRecord(table, id))
	switch n {
	case 0:
		return ""
	case 1:
		return ui.RenderMuted("  (1 change pending)")
	}
	return ui.RenderMuted(fmt.Sprintf("  (%d changes pending)", n))
}

var logListFlags struct {
	from   string
	to     string
	output string
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logs, newest first",
	Long: `List daily logs, newest first. --from and --to bound the range and
accept the same dates as 'log add'.

Example:
  luna log list --from "2 weeks ago"`,
	Run: func(cmd *cobra.Command, args []string) {
		a, user := mustOpen(context.Background(), false)
		defer a.close()

		var logs []*schema.DailyLog
		if logListFlags.from != "" || logListFlags.to != "" {
			now := time.Now()
			var from, to schema.Date
			var err error
			if logListFlags.from != "" {
				if from, err = parseDate(logListFlags.from, now); err != nil {
					fail(a, "%v", err)
				}
			}
			if logListFlags.to != "" {
				if to, err = parseDate(logListFlags.to, now); err != nil {
					fail(a, "%v", err)
				}
			}
			logs = a.services.DailyLogs.GetRange(user, from, to)
		} else {
			logs = a.services.DailyLogs.GetAll(user)
		}

		if done, err := writeStructured(os.Stdout, logListFlags.output, logs); done {
			if err != nil {
				fail(a, "%v", err)
			}
			return
		}
		if len(logs) == 0 {
			fmt.Printf("%s No logs\n", ui.RenderMuted("·"))
			return
		}
		rows := make([][]string, 0, len(logs))
		for _, l := range logs {
			rows = append(rows, []string{
				string(l.Date), string(l.Flow), strings.Join(l.Symptoms, ", "), l.Mood.String(), ui.YesNo(l.Synced),
			})
		}
		fmt.Println(ui.Table([]string{"Date", "Flow", "Symptoms", "Mood", "Synced"}, rows))
	},
}

var logRmCmd = &cobra.Command{
	Use:   "rm <date>",
	Short: "Delete the log for a day",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		date, err := parseDate(args[0], time.Now())
		if err != nil {
			fail(nil, "%v", err)
		}
		a, user := mustOpen(ctx, false)
		defer a.close()

		l, err := a.services.DailyLogs.GetByDate(user, date)
		if err != nil {
			fail(a, "%v", err)
		}
		if err := a.services.DailyLogs.Delete(ctx, l.ID); err != nil {
			fail(a, "%v", err)
		}
		fmt.Printf("%s Deleted log for %s\n", ui.RenderPass("✓"), date)
	},
}

func init() {
	f := logAddCmd.Flags()
	f.StringVar(&logAddFlags.date, "date", "", "Day to log (default today)")
	f.StringVar(&logAddFlags.flow, "flow", "", "none, light, medium, heavy or spotting")
	f.StringSliceVar(&logAddFlags.symptoms, "symptoms", nil, "Symptoms (comma separated)")
	f.StringSliceVar(&logAddFlags.mood, "mood", nil, "Mood tags (comma separated)")
	f.StringVar(&logAddFlags.notes, "notes", "", "Free-form notes")

	logShowCmd.Flags().StringVarP(&logShowFormat, "output", "o", "text", "Output format: text, json or yaml")

	lf := logListCmd.Flags()
	lf.StringVar(&logListFlags.from, "from", "", "First day to include")
	lf.StringVar(&logListFlags.to, "to", "", "Last day to include")
	lf.StringVarP(&logListFlags.output, "output", "o", "text", "Output format: text, json or yaml")

	logCmd.AddCommand(logAddCmd, logShowCmd, logListCmd, logRmCmd)
	rootCmd.AddCommand(logCmd)
}
