package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/config"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/forms"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/record"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/ui"
)

var captureCmd = &cobra.Command{
	Use:     "capture",
	GroupID: "capture",
	Short:   "Capture a field record",
	Long: `Capture an awareness session or a child screening.

On a terminal the fields are prompted interactively; otherwise every
required field must come from flags. Captured records are staged on the
device immediately and pushed in the background when the sync server is
reachable - capture never waits on the network.`,
}

var captureSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Capture an awareness session",
	Example: `  vt capture session
  vt capture session --village "Basti Ahmed" --facilitator "R. Bibi" --attendees 23
  vt capture session --village Kotla --facilitator Nadia --attendees 14 --at "yesterday 3pm"`,
	RunE: runCaptureSession,
}

var captureScreeningCmd = &cobra.Command{
	Use:   "screening",
	Short: "Capture a child health screening",
	Example: `  vt capture screening
  vt capture screening --child "Ali Raza" --village Kotla --age 18 --muac 112`,
	RunE: runCaptureScreening,
}

func init() {
	captureSessionCmd.Flags().String("village", "", "village name")
	captureSessionCmd.Flags().String("union-council", "", "union council")
	captureSessionCmd.Flags().String("facilitator", "", "facilitator name")
	captureSessionCmd.Flags().Int("attendees", 0, "attendee count")
	captureSessionCmd.Flags().String("notes", "", "free-form notes")
	captureSessionCmd.Flags().String("at", "", "when the session was held (natural language, e.g. \"yesterday 3pm\")")
	captureSessionCmd.Flags().Bool("locate", false, "attach a location fix")

	captureScreeningCmd.Flags().String("child", "", "child name")
	captureScreeningCmd.Flags().String("father", "", "father name")
	captureScreeningCmd.Flags().String("village", "", "village name")
	captureScreeningCmd.Flags().Int("age", 0, "age in months")
	captureScreeningCmd.Flags().Int("muac", 0, "mid-upper-arm circumference in mm")
	captureScreeningCmd.Flags().String("at", "", "when the screening happened (natural language)")
	captureScreeningCmd.Flags().Bool("locate", false, "attach a location fix")

	captureCmd.AddCommand(captureSessionCmd, captureScreeningCmd)
	rootCmd.AddCommand(captureCmd)
}

// parseWhen turns natural language ("yesterday 3pm", "last tuesday") into a
// time. Empty input means now.
func parseWhen(input string) (time.Time, error) {
	if input == "" {
		return time.Time{}, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(input, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q", input)
	}
	return r.Time, nil
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// fieldLabel returns the template's label for a field, so a TOML override in
// the data directory relabels the interactive prompts.
func fieldLabel(tpl *forms.Template, key, fallback string) string {
	if tpl == nil {
		return fallback
	}
	for _, f := range tpl.Fields {
		if f.Key == key && f.Label != "" {
			return f.Label
		}
	}
	return fallback
}

// loadTemplate fetches the capture form template, tolerating a broken
// override: capture must not fail because someone fat-fingered a TOML file.
func loadTemplate(cfg *config.Config, name string) *forms.Template {
	tpl, err := forms.Load(cfg.DataDir, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring form template: %v\n", err)
		return forms.Builtin(name)
	}
	return tpl
}

func runCaptureSession(cmd *cobra.Command, _ []string) error {
	village, _ := cmd.Flags().GetString("village")
	uc, _ := cmd.Flags().GetString("union-council")
	facilitator, _ := cmd.Flags().GetString("facilitator")
	attendees, _ := cmd.Flags().GetInt("attendees")
	notes, _ := cmd.Flags().GetString("notes")
	at, _ := cmd.Flags().GetString("at")
	locate, _ := cmd.Flags().GetBool("locate")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if interactive() && (village == "" || facilitator == "" || attendees == 0) {
		tpl := loadTemplate(cfg, "session")
		attendeesStr := ""
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title(fieldLabel(tpl, "village", "Village")).Value(&village).
					Validate(huh.ValidateNotEmpty()),
				huh.NewInput().Title(fieldLabel(tpl, "union_council", "Union Council")).Value(&uc),
				huh.NewInput().Title(fieldLabel(tpl, "facilitator", "Facilitator")).Value(&facilitator).
					Validate(huh.ValidateNotEmpty()),
				huh.NewInput().Title(fieldLabel(tpl, "attendees", "Attendees")).Value(&attendeesStr).
					Validate(func(s string) error {
						n, err := strconv.Atoi(s)
						if err != nil || n < 0 {
							return fmt.Errorf("enter a non-negative number")
						}
						return nil
					}),
				huh.NewText().Title(fieldLabel(tpl, "notes", "Notes")).Value(&notes),
			).Title(tpl.Title),
		)
		if err := form.Run(); err != nil {
			return err
		}
		attendees, _ = strconv.Atoi(attendeesStr)
	}

	heldAt, err := parseWhen(at)
	if err != nil {
		return err
	}

	sess := record.NewSession(village, facilitator, attendees, heldAt)
	sess.UnionCouncil = uc
	sess.Notes = notes

	if locate {
		sess.Location = captureFix(cfg)
		if sess.Location == nil {
			fmt.Fprintln(os.Stderr, "no location fix; capturing without one")
		}
	}

	if err := sess.Validate(); err != nil {
		return err
	}

	sessions, screenings, backend, err := openStagesWithRemote(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	defer screenings.Close()
	defer sessions.Close()

	sessions.Add(sess)

	fmt.Printf("Staged session %s in %s (%d staged)\n",
		ui.FaintStyle.Render(shortID(sess.LocalID)), sess.Village, sessions.Pending())
	return nil
}

func runCaptureScreening(cmd *cobra.Command, _ []string) error {
	child, _ := cmd.Flags().GetString("child")
	father, _ := cmd.Flags().GetString("father")
	village, _ := cmd.Flags().GetString("village")
	age, _ := cmd.Flags().GetInt("age")
	muac, _ := cmd.Flags().GetInt("muac")
	at, _ := cmd.Flags().GetString("at")
	locate, _ := cmd.Flags().GetBool("locate")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if interactive() && (child == "" || village == "" || muac == 0) {
		tpl := loadTemplate(cfg, "screening")
		ageStr, muacStr := "", ""
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title(fieldLabel(tpl, "child_name", "Child name")).Value(&child).
					Validate(huh.ValidateNotEmpty()),
				huh.NewInput().Title(fieldLabel(tpl, "father_name", "Father name")).Value(&father),
				huh.NewInput().Title(fieldLabel(tpl, "village", "Village")).Value(&village).
					Validate(huh.ValidateNotEmpty()),
				huh.NewInput().Title(fieldLabel(tpl, "age_months", "Age (months)")).Value(&ageStr).
					Validate(func(s string) error {
						n, err := strconv.Atoi(s)
						if err != nil || n < 0 || n > 72 {
							return fmt.Errorf("enter an age between 0 and 72 months")
						}
						return nil
					}),
				huh.NewInput().Title(fieldLabel(tpl, "muac_mm", "MUAC (mm)")).Value(&muacStr).
					Validate(func(s string) error {
						n, err := strconv.Atoi(s)
						if err != nil || n <= 0 {
							return fmt.Errorf("enter the circumference in millimeters")
						}
						return nil
					}),
			).Title(tpl.Title),
		)
		if err := form.Run(); err != nil {
			return err
		}
		age, _ = strconv.Atoi(ageStr)
		muac, _ = strconv.Atoi(muacStr)
	}

	screenedAt, err := parseWhen(at)
	if err != nil {
		return err
	}

	scr := record.NewScreening(child, village, age, muac, screenedAt)
	scr.FatherName = father

	if locate {
		scr.Location = captureFix(cfg)
		if scr.Location == nil {
			fmt.Fprintln(os.Stderr, "no location fix; capturing without one")
		}
	}

	if err := scr.Validate(); err != nil {
		return err
	}

	sessions, screenings, backend, err := openStagesWithRemote(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	defer screenings.Close()
	defer sessions.Close()

	screenings.Add(scr)

	fmt.Printf("Staged screening %s for %s: %s (%d staged)\n",
		ui.FaintStyle.Render(shortID(scr.LocalID)), scr.ChildName,
		ui.StatusBadge(scr.Status), screenings.Pending())
	return nil
}
