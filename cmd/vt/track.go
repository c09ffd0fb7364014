package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/record"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/sensor"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/ui"
)

var trackCmd = &cobra.Command{
	Use:     "track",
	GroupID: "capture",
	Short:   "Watch live location acquisition",
	Long: `Show the location sensor's acquisition state live.

Keys:
  p  pause tracking
  r  resume tracking
  q  quit`,
	RunE: runTrack,
}

func init() {
	trackCmd.Flags().Bool("sim", false, "use the simulated device regardless of config")
	trackCmd.Flags().Bool("continuous", false, "force continuous tracking")
	rootCmd.AddCommand(trackCmd)
}

// sensorMsg carries a machine snapshot into the bubbletea loop.
type sensorMsg sensor.Session

type trackModel struct {
	machine *sensor.Machine
	spin    spinner.Model
	sess    sensor.Session
}

func newTrackModel(machine *sensor.Machine) trackModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return trackModel{
		machine: machine,
		spin:    sp,
		sess:    machine.Session(),
	}
}

func (m trackModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m trackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.machine.PauseTracking()
		case "r":
			m.machine.StartTracking()
		}
		return m, nil

	case sensorMsg:
		m.sess = sensor.Session(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m trackModel) View() string {
	s := ui.TitleStyle.Render("Location") + "\n\n"

	switch m.sess.Phase {
	case sensor.PhaseAwaitingFix:
		s += fmt.Sprintf("%s acquiring fix...\n", m.spin.View())
	case sensor.PhaseTracking:
		s += "tracking\n"
	case sensor.PhasePaused:
		s += "paused (r to resume)\n"
	case sensor.PhaseErrored:
		s += ui.ErrStyle.Render(m.sess.Err) + "\n"
	default:
		s += "idle\n"
	}

	var fix *record.Fix
	if m.sess.Sample != nil {
		fix = &record.Fix{
			Latitude:  m.sess.Sample.Latitude,
			Longitude: m.sess.Sample.Longitude,
			Accuracy:  m.sess.Sample.Accuracy,
			Timestamp: m.sess.Sample.CapturedAt,
		}
	}
	s += "\n" + ui.Coords(fix) + "\n"
	if fix != nil {
		s += ui.FaintStyle.Render("fixed "+fix.Timestamp.Local().Format("15:04:05")) + "\n"
	}

	s += "\n" + ui.FaintStyle.Render("p pause · r resume · q quit") + "\n"
	return s
}

// forwardUpdates registers the machine observer that feeds the bubbletea
// loop. Delivery happens off the emitting goroutine: machine methods emit
// synchronously, so a direct p.Send would block the caller whenever the
// event loop is not receiving - before Run starts, or while the loop is
// inside Update handling the keypress that triggered the machine call.
func forwardUpdates(p *tea.Program, machine *sensor.Machine) {
	machine.OnUpdate(func(s sensor.Session) {
		go p.Send(sensorMsg(s))
	})
}

func runTrack(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if sim, _ := cmd.Flags().GetBool("sim"); sim {
		cfg.Sensor.Source = "sim"
	}
	if cont, _ := cmd.Flags().GetBool("continuous"); cont {
		cfg.Sensor.Continuous = true
	}

	machine := sensor.NewMachine(newDevice(cfg), sensorConfig(cfg), newLogger("[sensor] "))
	defer machine.Close()

	p := tea.NewProgram(newTrackModel(machine))
	forwardUpdates(p, machine)

	if cfg.Sensor.Continuous {
		machine.StartTracking()
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("track view failed: %w", err)
	}
	return nil
}
