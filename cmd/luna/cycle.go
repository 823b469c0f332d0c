package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	"github.com/lunaria-app/lunaria/internal/predict"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var cycleCmd = &cobra.Command{
	Use:     "cycle",
	GroupID: "track",
	Short:   "Record period starts, ends and delays",
}

var cycleStartCmd = &cobra.Command{
	Use:   "start [date]",
	Short: "Confirm that a period started (default today)",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		start, err := parseDate(strings.Join(args, " "), time.Now())
		if err != nil {
			fail(nil, "%v", err)
		}
		a, user := mustOpen(ctx, false)
		defer a.close()

		c, err := a.services.Cycles.ConfirmPeriodStart(ctx, user, start)
		if err != nil {
			fail(a, "%v", err)
		}
		fmt.Printf("%s Period started %s\n", ui.RenderPass("✓"), c.StartDate)
	},
}

var cycleEndStart string

var cycleEndCmd = &cobra.Command{
	Use:   "end [date]",
	Short: "Record that the period ended (default today)",
	Long: `Close the most recent open cycle on the given day. If no cycle is open,
--start creates a closed cycle from that day.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		now := time.Now()
		end, err := parseDate(strings.Join(args, " "), now)
		if err != nil {
			fail(nil, "%v", err)
		}
		var start *schema.Date
		if cycleEndStart != "" {
			d, err := parseDate(cycleEndStart, now)
			if err != nil {
				fail(nil, "%v", err)
			}
			start = schema.DatePtr(d)
		}
		a, user := mustOpen(ctx, false)
		defer a.close()

		if open := a.services.Cycles.OpenCycles(user); len(open) > 1 {
			fmt.Printf("%s %d open cycles; closing the one started %s\n", ui.RenderWarn("⚠"), len(open), open[0].StartDate)
		}
		c, err := a.services.Cycles.MarkPeriodEnd(ctx, user, end, start)
		if errors.Is(err, records.ErrNoOpenCycle) {
			fail(a, "no open cycle (run 'luna cycle start' or pass --start)")
		}
		if err != nil {
			fail(a, "%v", err)
		}
		fmt.Printf("%s Period %s to %s\n", ui.RenderPass("✓"), c.StartDate, *c.EndDate)
	},
}

var cycleDelayStart string

var cycleDelayCmd = &cobra.Command{
	Use:   "delay [days]",
	Short: "Record that the next period is late",
	Long: `Record a delay on the current cycle. Without a day count the delay is
how far today is past the latest expected start.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		now := time.Now()
		a, user := mustOpen(ctx, false)
		defer a.close()

		var start schema.Date
		if cycleDelayStart != "" {
			d, err := parseDate(cycleDelayStart, now)
			if err != nil {
				fail(a, "%v", err)
			}
			start = d
		} else {
			cycles := a.services.Cycles.GetAll(user)
			if len(cycles) == 0 {
				fail(a, "no cycles recorded (run 'luna cycle start' first)")
			}
			start = cycles[0].StartDate
		}

		var days int
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				fail(a, "invalid day count %q", args[0])
			}
			days = n
		} else {
			p, _ := a.services.Profiles.GetByUserID(user)
			n, err := predict.DelayDays(p, start, schema.DateOf(now))
			if err != nil {
				fail(a, "%v", err)
			}
			days = n
		}

		c, err := a.services.Cycles.MarkDelay(ctx, user, start, days)
		if err != nil {
			fail(a, "%v", err)
		}
		if c.Delay == 0 {
			fmt.Printf("%s Cycle from %s is not late\n", ui.RenderPass("✓"), c.StartDate)
			return
		}
		fmt.Printf("%s Cycle from %s marked %d day(s) late\n", ui.RenderWarn("⚠"), c.StartDate, c.Delay)
	},
}

var cycleListFormat string

var cycleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cycles, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		a, user := mustOpen(context.Background(), false)
		defer a.close()

		cycles := a.services.Cycles.GetAll(user)
		if done, err := writeStructured(os.Stdout, cycleListFormat, cycles); done {
			if err != nil {
				fail(a, "%v", err)
			}
			return
		}
		if len(cycles) == 0 {
			fmt.Printf("%s No cycles\n", ui.RenderMuted("·"))
			return
		}
		rows := make([][]string, 0, len(cycles))
		for _, c := range cycles {
			end := ui.RenderMuted("open")
			if c.EndDate != nil {
				end = string(*c.EndDate)
			}
			rows = append(rows, []string{string(c.StartDate), end, strconv.Itoa(c.Delay), ui.YesNo(c.Synced)})
		}
		fmt.Println(ui.Table([]string{"Start", "End", "Delay", "Synced"}, rows))
	},
}

func init() {
	cycleEndCmd.Flags().StringVar(&cycleEndStart, "start", "", "Start of the period when no cycle is open")
	cycleDelayCmd.Flags().StringVar(&cycleDelayStart, "start", "", "Start of the delayed cycle (default the latest)")
	cycleListCmd.Flags().StringVarP(&cycleListFormat, "output", "o", "text", "Output format: text, json or yaml")

	cycleCmd.AddCommand(cycleStartCmd, cycleEndCmd, cycleDelayCmd, cycleListCmd)
	rootCmd.AddCommand(cycleCmd)
}
