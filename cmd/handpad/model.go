package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/mountcore/internal/mount"
)

const (
	pollInterval   = 500 * time.Millisecond
	requestTimeout = 5 * time.Second
)

// mountClient is the part of the API client the hand controller uses.
type mountClient interface {
	Status(ctx context.Context) (mount.Snapshot, error)
	Press(ctx context.Context, direction string, speed int) error
	Release(ctx context.Context, direction string) error
	Abort(ctx context.Context) error
	Home(ctx context.Context) error
	Park(ctx context.Context, name string) error
	Unpark(ctx context.Context) error
	SetTracking(ctx context.Context, on bool) error
}

// Arrow keys latch a direction; space releases everything that is moving.
var keyDirections = map[string]string{
	"up":    "north",
	"down":  "south",
	"left":  "east",
	"right": "west",
	"k":     "north",
	"j":     "south",
	"h":     "east",
	"l":     "west",
}

var opposite = map[string]string{
	"north": "south",
	"south": "north",
	"east":  "west",
	"west":  "east",
}

type model struct {
	client mountClient
	speed  int
	moving map[string]bool
	status mount.Snapshot
	err    error
	last   string

	pressedAt time.Time
}

type tickMsg time.Time

type statusMsg struct {
	snap mount.Snapshot
	err  error
}

type resultMsg struct {
	action string
	err    error
}

func newModel(client mountClient, speed int) model {
	if speed < 1 || speed > 8 {
		speed = 6
	}
	return model{client: client, speed: speed, moving: make(map[string]bool)}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.fetchStatus())
}

func (m model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap, err := m.client.Status(ctx)
		return statusMsg{snap: snap, err: err}
	}
}

// call runs fn against the client in the background.
func (m model) call(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return resultMsg{action: action, err: fn(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		return m, tea.Batch(tick(), m.fetchStatus())

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status = msg.snap
		stale := msg.snap.Time.Before(m.pressedAt.Add(pollInterval))
		if m.status.SlewState != mount.SlewHandpadMove.String() && len(m.moving) > 0 && !stale {
			// another client or a slew took over
			m.moving = make(map[string]bool)
		}

	case resultMsg:
		m.last = msg.action
		m.err = msg.err
	}
	return m, nil
}

func (m model) handleKey(key string) (tea.Model, tea.Cmd) {
	if dir, ok := keyDirections[key]; ok {
		return m.press(dir)
	}

	switch key {
	case "q", "ctrl+c":
		var cmds []tea.Cmd
		for dir := range m.moving {
			d := dir
			cmds = append(cmds, m.call("release "+d, func(ctx context.Context) error {
				return m.client.Release(ctx, d)
			}))
		}
		return m, tea.Sequence(tea.Batch(cmds...), tea.Quit)

	case " ":
		return m.releaseAll()

	case "1", "2", "3", "4", "5", "6", "7", "8":
		m.speed = int(key[0] - '0')
		m.last = fmt.Sprintf("speed %d", m.speed)
		return m, nil

	case "a", "esc":
		m.moving = make(map[string]bool)
		return m, m.call("abort", m.client.Abort)

	case "t":
		on := !m.status.Tracking
		return m, m.call(fmt.Sprintf("tracking %v", on), func(ctx context.Context) error {
			return m.client.SetTracking(ctx, on)
		})

	case "H":
		return m, m.call("home", m.client.Home)

	case "p":
		return m, m.call("park", func(ctx context.Context) error {
			return m.client.Park(ctx, "")
		})

	case "u":
		return m, m.call("unpark", m.client.Unpark)
	}
	return m, nil
}

// press starts motion in dir. The opposite direction on the same axis is
// replaced.
func (m model) press(dir string) (tea.Model, tea.Cmd) {
	if m.moving[dir] {
		return m, nil
	}
	moving := make(map[string]bool, len(m.moving)+1)
	for d := range m.moving {
		moving[d] = true
	}
	delete(moving, opposite[dir])
	moving[dir] = true
	m.moving = moving
	m.pressedAt = time.Now()

	speed := m.speed
	return m, m.call("press "+dir, func(ctx context.Context) error {
		return m.client.Press(ctx, dir, speed)
	})
}

func (m model) releaseAll() (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	for _, dir := range m.movingDirections() {
		d := dir
		cmds = append(cmds, m.call("release "+d, func(ctx context.Context) error {
			return m.client.Release(ctx, d)
		}))
	}
	m.moving = make(map[string]bool)
	return m, tea.Batch(cmds...)
}

func (m model) movingDirections() []string {
	dirs := make([]string, 0, len(m.moving))
	for d := range m.moving {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func (m model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("MOUNT HAND CONTROLLER"))
	b.WriteString("\n\n")

	s := m.status
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	row("RA", formatHours(s.RightAscension))
	row("Dec", formatDegrees(s.Declination))
	row("Alt/Az", fmt.Sprintf("%.2f° / %.2f°", s.Altitude, s.Azimuth))
	row("Pier", s.PierSide)
	row("State", s.SlewState)
	tracking := "off"
	if s.Tracking {
		tracking = s.TrackingRate
	}
	row("Tracking", tracking)
	if s.AtPark {
		row("Park", s.ParkName)
	}
	if s.LimitAlarm {
		b.WriteString(errStyle.Render("LIMIT " + s.LimitEvent + " " + s.LimitMessage))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Speed     "))
	for i := 1; i <= 8; i++ {
		if i == m.speed {
			b.WriteString(activeStyle.Render(fmt.Sprintf("[%d]", i)))
		} else {
			b.WriteString(labelStyle.Render(fmt.Sprintf(" %d ", i)))
		}
	}
	b.WriteString("\n")

	dirs := m.movingDirections()
	moving := "-"
	if len(dirs) > 0 {
		moving = strings.Join(dirs, " ")
	}
	b.WriteString(labelStyle.Render("Moving    "))
	b.WriteString(activeStyle.Render(moving))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.last != "" {
		b.WriteString(labelStyle.Render("Last: " + m.last))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("arrows/hjkl: move  space: stop  1-8: speed  t: tracking  H: home  p: park  u: unpark  a: abort  q: quit"))
	return b.String()
}

func formatHours(h float64) string {
	total := int(h*3600 + 0.5)
	return fmt.Sprintf("%02dh %02dm %02ds", total/3600, (total/60)%60, total%60)
}

func formatDegrees(d float64) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int(d*3600 + 0.5)
	return fmt.Sprintf("%s%02d° %02d' %02d\"", sign, total/3600, (total/60)%60, total%60)
}
