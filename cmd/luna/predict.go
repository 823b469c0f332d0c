package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
	"github.com/lunaria-app/lunaria/internal/predict"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var predictFormat string

var predictCmd = &cobra.Command{
	Use:     "predict",
	GroupID: "track",
	Short:   "Predict the next period and fertile window",
	Long: `Predict the next period from the most recent cycle and your profile.
Regular cycles use the average length; irregular ones give the window
between the shortest and longest cycle. A recorded delay shifts everything.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, user := mustOpen(context.Background(), false)
		defer a.close()

		cycles := a.services.Cycles.GetAll(user)
		if len(cycles) == 0 {
			fmt.Printf("\n%s No cycles recorded\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'luna cycle start <date>' with your last period start\n\n")
			return
		}
		p, _ := a.services.Profiles.GetByUserID(user)
		pr, err := predict.ForCycle(p, cycles[0])
		if err != nil {
			fail(a, "%v", err)
		}
		if done, err := writeStructured(os.Stdout, predictFormat, pr); done {
			if err != nil {
				fail(a, "%v", err)
			}
			return
		}

		today := schema.DateOf(time.Now())
		fmt.Printf("\n%s Prediction from cycle started %s\n\n", ui.RenderAccent("🔮"), pr.Start)
		if pr.Irregular {
			fmt.Printf("   Next period: %s to %s (most likely %s)\n", pr.Earliest, pr.Latest, ui.RenderBold(string(pr.NextStart)))
		} else {
			fmt.Printf("   Next period: %s\n", ui.RenderBold(string(pr.NextStart)))
		}
		if n := today.DaysUntil(pr.NextStart); n >= 0 {
			fmt.Printf("   %s\n", ui.RenderMuted(fmt.Sprintf("in %d day(s)", n)))
		} else if late := pr.Latest.DaysUntil(today); late > 0 {
			fmt.Printf("   %s\n", ui.RenderWarn(fmt.Sprintf("%d day(s) past the latest expected start", late)))
		}
		fmt.Printf("   Period ends: %s\n", pr.PeriodEnd)
		fmt.Printf("   Ovulation: %s\n", pr.Ovulation)
		fmt.Printf("   Fertile window: %s to %s\n", pr.FertileStart, pr.FertileEnd)
		if pr.Delay > 0 {
			fmt.Printf("   Delay applied: %d day(s)\n", pr.Delay)
		}
		if p == nil {
			fmt.Printf("\n%s No profile; using a %d-day cycle\n", ui.RenderWarn("⚠"), predict.DefaultCycleLength)
		}
		fmt.Println()
	},
}

func init() {
	predictCmd.Flags().StringVarP(&predictFormat, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(predictCmd)
}
