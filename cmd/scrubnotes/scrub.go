package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"scrubnotes/internal/outcome"
	"scrubnotes/internal/records"
	"scrubnotes/internal/session"
	"scrubnotes/internal/view"
)

// lineHeight converts scroll speeds, which are in pixels per second, to
// terminal lines.
const lineHeight = 18.0

// holdWindow is how long one press of the hold key pauses scrolling.
// Terminals only report key repeats, so holding the key keeps extending it.
const holdWindow = 600 * time.Millisecond

type scrubOptions struct {
	email     string
	password  string
	surgeon   string
	procedure string
	section   string
	speed     string
	rows      int
	interval  time.Duration
}

func newScrubCmd(g *globals) *cobra.Command {
	o := scrubOptions{}
	cmd := &cobra.Command{
		Use:   "scrub",
		Short: "Auto-scroll the sections of a procedure card in the terminal",
		Long: `Shows one section of a procedure card and scrolls it hands-free.

Keys: space turns scrolling on and off, 1/2/3 pick slow/normal/fast,
h (held) or the mouse over the text pauses, d/i/w open draping,
instruments or workflow, q quits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			section, ok := view.ParseSection(o.section)
			if !ok {
				return fmt.Errorf("unknown section %q (draping, instruments, workflow)", o.section)
			}
			speed, err := parseSpeed(o.speed)
			if err != nil {
				return err
			}
			if o.procedure == "" {
				return errors.New("--procedure is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sess, err := a.identity.SignInWithPassword(ctx, o.email, o.password)
			if err != nil {
				return err
			}
			ctx = session.WithToken(ctx, sess.Token)
			defer func() { _ = a.identity.SignOut(context.WithoutCancel(ctx), sess.Token) }()

			screen := view.NewController(view.Config[records.ProcedureDetail]{
				Session:           a.guard,
				Identifier:        o.procedure,
				RequireIdentifier: true,
				Load: func(ctx context.Context, userID string) (records.ProcedureDetail, error) {
					return a.loader.LoadProcedureDetail(ctx, userID, o.surgeon, o.procedure)
				},
				Log: g.log.Named("scrub"),
			})
			screen.Mount(ctx)
			defer screen.Unmount()
			res := screen.Outcome()
			if res.Status != outcome.StatusOk {
				return fmt.Errorf("procedure %s: %s", o.procedure, describe(res))
			}

			m := newScrubModel(ctx, res.Value.Procedure, o.rows, o.interval)
			m.open(section)
			m.sc.SetSpeed(speed)
			p := tea.NewProgram(m,
				tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
				tea.WithAltScreen(),
				tea.WithMouseAllMotion(),
			)
			_, err = p.Run()
			if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.email, "email", "", "account email")
	f.StringVar(&o.password, "password", "", "account password")
	f.StringVar(&o.surgeon, "surgeon", "", "surgeon id the procedure must belong to")
	f.StringVar(&o.procedure, "procedure", "", "procedure id")
	f.StringVar(&o.section, "section", string(view.SectionInstruments), "section to open first: draping, instruments or workflow")
	f.StringVar(&o.speed, "speed", "normal", "initial scroll speed: slow, normal or fast")
	f.IntVar(&o.rows, "rows", 20, "visible lines")
	f.DurationVar(&o.interval, "interval", 100*time.Millisecond, "redraw interval")
	return cmd
}

func parseSpeed(s string) (view.Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slow":
		return view.SpeedSlow, nil
	case "", "normal":
		return view.SpeedNormal, nil
	case "fast":
		return view.SpeedFast, nil
	}
	return 0, fmt.Errorf("unknown speed %q (slow, normal, fast)", s)
}

func speedName(s view.Speed) string {
	switch s {
	case view.SpeedSlow:
		return "slow"
	case view.SpeedFast:
		return "fast"
	default:
		return "normal"
	}
}

func describe[T any](r outcome.Result[T]) string {
	if r.Message != "" {
		return r.Message
	}
	return r.Status.String()
}

func sectionText(p records.Procedure, s view.Section) string {
	switch s {
	case view.SectionDraping:
		return p.Draping
	case view.SectionWorkflow:
		return p.WorkflowNotes
	default:
		return p.InstrumentsTrays
	}
}

func sectionTitle(s view.Section) string {
	switch s {
	case view.SectionDraping:
		return "Draping"
	case view.SectionWorkflow:
		return "Workflow notes"
	default:
		return "Instruments & trays"
	}
}

func splitLines(text string) []string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return []string{"(empty)"}
	}
	return strings.Split(text, "\n")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	pausedStyle = lipgloss.NewStyle().Faint(true)
	footerStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)
)

type (
	frameMsg   view.Frame
	stoppedMsg struct{ err error }
)

// scrubModel shows one procedure section at a time. The scroller's own Run
// loop produces frames; the model forwards them to bubbletea and maps keys
// and mouse hover onto the scroller.
type scrubModel struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sc       *view.Scroller
	proc     records.Procedure
	rows     int
	interval time.Duration
	frames   chan view.Frame

	section   view.Section
	lines     []string
	vp        viewport.Model
	frame     view.Frame
	holdUntil time.Time
	now       func() time.Time
	running   int
	quitting  bool
}

func newScrubModel(ctx context.Context, p records.Procedure, rows int, interval time.Duration) *scrubModel {
	if rows <= 0 {
		rows = 1
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(ctx)
	return &scrubModel{
		ctx:      ctx,
		cancel:   cancel,
		sc:       view.NewScroller(),
		proc:     p,
		rows:     rows,
		interval: interval,
		frames:   make(chan view.Frame, 1),
		vp:       viewport.New(80, rows),
		now:      time.Now,
	}
}

// open shows section from the top with the scroller's defaults.
func (m *scrubModel) open(section view.Section) {
	m.section = section
	m.lines = splitLines(sectionText(m.proc, section))
	m.vp.SetContent(strings.Join(m.lines, "\n"))
	m.vp.SetYOffset(0)
	m.holdUntil = time.Time{}
	m.sc.Open(section, float64(len(m.lines))*lineHeight, float64(m.rows)*lineHeight)
	m.frame = m.sc.Frame()
}

func (m *scrubModel) Init() tea.Cmd {
	return tea.Batch(m.run(), m.waitFrame())
}

// run drives the scroller until it is closed; Update restarts it after a
// section switch. At most one loop runs at a time.
func (m *scrubModel) run() tea.Cmd {
	m.running++
	ctx, sc, frames, interval := m.ctx, m.sc, m.frames, m.interval
	return func() tea.Msg {
		err := sc.Run(ctx, interval, func(f view.Frame) {
			select {
			case frames <- f:
			default:
			}
		})
		return stoppedMsg{err: err}
	}
}

func (m *scrubModel) waitFrame() tea.Cmd {
	ctx, frames := m.ctx, m.frames
	return func() tea.Msg {
		select {
		case f := <-frames:
			return frameMsg(f)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *scrubModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.sc.Close()
	m.cancel()
	return m, tea.Quit
}

func (m *scrubModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		if !m.holdUntil.IsZero() && m.now().After(m.holdUntil) {
			m.holdUntil = time.Time{}
			m.sc.Hover(false)
		}
		m.frame = view.Frame(msg)
		m.vp.SetYOffset(int(m.frame.Offset / lineHeight))
		return m, m.waitFrame()

	case stoppedMsg:
		m.running--
		if m.quitting {
			return m, nil
		}
		if msg.err != nil {
			// ctx ended
			return m.quit()
		}
		if m.running > 0 {
			return m, nil
		}
		return m, m.run()

	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		return m, nil

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionMotion {
			m.sc.Hover(msg.Y >= 1 && msg.Y <= m.rows)
			m.frame = m.sc.Frame()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m.quit()
		case " ":
			m.sc.Toggle()
		case "1":
			m.sc.SetSpeed(view.SpeedSlow)
		case "2":
			m.sc.SetSpeed(view.SpeedNormal)
		case "3":
			m.sc.SetSpeed(view.SpeedFast)
		case "h":
			m.holdUntil = m.now().Add(holdWindow)
			m.sc.Hover(true)
		case "d":
			m.open(view.SectionDraping)
		case "i":
			m.open(view.SectionInstruments)
		case "w":
			m.open(view.SectionWorkflow)
		}
		m.frame = m.sc.Frame()
		return m, nil
	}
	return m, nil
}

func (m *scrubModel) status() string {
	switch {
	case !m.frame.On:
		return "off"
	case m.frame.Hovered:
		return "paused"
	default:
		return "scrolling"
	}
}

func (m *scrubModel) View() string {
	if m.quitting {
		return ""
	}
	header := headerStyle.Render(fmt.Sprintf("%s · %s · %s", sectionTitle(m.section), speedName(m.frame.Speed), m.status()))
	body := m.vp.View()
	if m.status() != "scrolling" {
		body = pausedStyle.Render(body)
	}
	footer := footerStyle.Render("space on/off · 1/2/3 speed · h hold · d/i/w section · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}
