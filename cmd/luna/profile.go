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
	"github.com/lunaria-app/lunaria/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "track",
	Short:   "Show or edit your cycle profile",
}

var profileSetFlags struct {
	name           string
	birthDate      string
	cycleType      string
	cycleLength    int
	rangeMin       int
	rangeMax       int
	periodLength   int
	pcos           bool
	pcosSymptoms   []string
	pcosTreatment  []string
	contraceptive  string
	wantsPregnancy bool
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update your profile",
	Long: `Create or update your profile. Only the flags given are changed.

Regular cycles need --cycle-length; irregular ones --range-min and --range-max.

Examples:
  luna profile set --name Ada --cycle-type regular --cycle-length 29
  luna profile set --cycle-type irregular --range-min 24 --range-max 38`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, user := mustOpen(ctx, false)
		defer a.close()

		p, err := a.services.Profiles.GetByUserID(user)
		if errors.Is(err, records.ErrNotFound) {
			p = &schema.Profile{UserID: user}
		} else if err != nil {
			fail(a, "%v", err)
		}
		if err := applyProfileFlags(cmd, p); err != nil {
			fail(a, "%v", err)
		}
		if _, err := a.services.Profiles.Save(ctx, p); err != nil {
			fail(a, "%v", err)
		}
		fmt.Printf("%s Profile saved (%d change(s) pending sync)\n", ui.RenderPass("✓"), a.queue.Len())
	},
}

func applyProfileFlags(cmd *cobra.Command, p *schema.Profile) error {
	f := &profileSetFlags
	changed := cmd.Flags().Changed
	if changed("name") {
		p.Name = f.name
	}
	if changed("birth-date") {
		d, err := schema.ParseDate(f.birthDate)
		if err != nil {
			return err
		}
		p.BirthDate = schema.DatePtr(d)
	}
	if changed("cycle-type") {
		p.CycleType = schema.CycleType(strings.ToLower(f.cycleType))
		if !p.CycleType.IsValid() {
			return fmt.Errorf("invalid cycle type %q (want regular or irregular)", f.cycleType)
		}
	}
	if changed("cycle-length") {
		p.AverageCycleLength = schema.IntPtr(f.cycleLength)
	}
	if changed("range-min") {
		p.CycleRangeMin = schema.IntPtr(f.rangeMin)
	}
	if changed("range-max") {
		p.CycleRangeMax = schema.IntPtr(f.rangeMax)
	}
	if changed("period-length") {
		p.PeriodLength = f.periodLength
	}
	if changed("pcos") {
		p.HasPCOS = f.pcos
	}
	if changed("pcos-symptoms") {
		p.PCOSSymptoms = schema.StringList(f.pcosSymptoms)
	}
	if changed("pcos-treatment") {
		p.PCOSTreatment = schema.StringList(f.pcosTreatment)
	}
	if changed("contraceptive") {
		p.ContraceptiveMethod = schema.ContraceptiveMethod(strings.ToLower(f.contraceptive))
	}
	if changed("wants-pregnancy") {
		p.WantsPregnancy = f.wantsPregnancy
	}
	return nil
}

var profileShowFormat string

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your profile",
	Run: func(cmd *cobra.Command, args []string) {
		a, user := mustOpen(context.Background(), false)
		defer a.close()

		p, err := a.services.Profiles.GetByUserID(user)
		if errors.Is(err, records.ErrNotFound) {
			fmt.Printf("\n%s No profile yet\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'luna profile set' to create one\n\n")
			return
		}
		if err != nil {
			fail(a, "%v", err)
		}
		if done, err := writeStructured(os.Stdout, profileShowFormat, p); done {
			if err != nil {
				fail(a, "%v", err)
			}
			return
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("👤"), ui.RenderBold(orDash(p.Name)))
		fmt.Printf("   User: %s\n", p.UserID)
		if p.BirthDate != nil {
			fmt.Printf("   Born: %s\n", *p.BirthDate)
		}
		fmt.Printf("   Cycle: %s\n", describeCycle(p))
		fmt.Printf("   Period length: %d days\n", p.PeriodLength)
		fmt.Printf("   Contraception: %s\n", p.ContraceptiveMethod)
		if p.HasPCOS {
			fmt.Printf("   PCOS: yes (symptoms: %s; treatment: %s)\n",
				orDash(strings.Join(p.PCOSSymptoms, ", ")), orDash(strings.Join(p.PCOSTreatment, ", ")))
		}
		fmt.Printf("   Wants pregnancy: %s\n", ui.YesNo(p.WantsPregnancy))
		fmt.Printf("   Synced: %s%s  %s\n\n", ui.YesNo(p.Synced), pendingNote(a, schema.TableProfiles, p.ID),
			ui.RenderMuted("updated "+p.UpdatedAt.Local().Format(time.DateTime)))
	},
}

func describeCycle(p *schema.Profile) string {
	if p.CycleType == schema.CycleIrregular {
		return fmt.Sprintf("irregular, %s-%s days", intOrDash(p.CycleRangeMin), intOrDash(p.CycleRangeMax))
	}
	return fmt.Sprintf("regular, %s days", intOrDash(p.AverageCycleLength))
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	f := profileSetCmd.Flags()
	f.StringVar(&profileSetFlags.name, "name", "", "Display name")
	f.StringVar(&profileSetFlags.birthDate, "birth-date", "", "Birth date (YYYY-MM-DD)")
	f.StringVar(&profileSetFlags.cycleType, "cycle-type", "", "regular or irregular")
	f.IntVar(&profileSetFlags.cycleLength, "cycle-length", 0, "Average cycle length in days (regular)")
	f.IntVar(&profileSetFlags.rangeMin, "range-min", 0, "Shortest cycle in days (irregular)")
	f.IntVar(&profileSetFlags.rangeMax, "range-max", 0, "Longest cycle in days (irregular)")
	f.IntVar(&profileSetFlags.periodLength, "period-length", 0, "Period length in days")
	f.BoolVar(&profileSetFlags.pcos, "pcos", false, "Diagnosed with PCOS")
	f.StringSliceVar(&profileSetFlags.pcosSymptoms, "pcos-symptoms", nil, "PCOS symptoms (comma separated)")
	f.StringSliceVar(&profileSetFlags.pcosTreatment, "pcos-treatment", nil, "PCOS treatments (comma separated)")
	f.StringVar(&profileSetFlags.contraceptive, "contraceptive", "", "Contraceptive method")
	f.BoolVar(&profileSetFlags.wantsPregnancy, "wants-pregnancy", false, "Trying to conceive")

	profileShowCmd.Flags().StringVarP(&profileShowFormat, "output", "o", "text", "Output format: text, json or yaml")

	profileCmd.AddCommand(profileSetCmd, profileShowCmd)
	rootCmd.AddCommand(profileCmd)
}
