package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"

	"github.com/unklstewy/mountcore/internal/api"
	"github.com/unklstewy/mountcore/internal/mount"
)

const (
	maxLogLines    = 200
	reconnectDelay = 2 * time.Second
	requestTimeout = 5 * time.Second
	staleAfter     = 3 * time.Second
)

// App is the monitor window.
type App struct {
	client *api.Client

	tviewApp   *tview.Application
	telemetry  *tview.TextView
	controls   *tview.TextView
	events     *tview.TextView
	rootLayout *tview.Flex

	mu       sync.Mutex
	last     mount.Snapshot
	have     bool
	received time.Time
}

// NewApp creates the monitor for the server behind client.
func NewApp(client *api.Client) *App {
	a := &App{client: client}
	a.setupUI()
	return a
}

func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()

	a.telemetry = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.telemetry.SetBorder(true).SetTitle(" Mount ")
	a.telemetry.SetText("[gray]Waiting for mountd...[-]")

	a.controls = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.controls.SetBorder(true).SetTitle(" Controls ")
	a.controls.SetText(`[yellow]MOTION[-]
  [white]a / ESC[-]  Abort
  [white]t[-]        Tracking on/off
  [white]H[-]        Home
  [white]p[-]        Park
  [white]u[-]        Unpark

[yellow]VIEW[-]
  [white]c[-]        Clear events
  [white]q[-]        Quit`)

	a.events = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxLogLines)
	a.events.SetBorder(true).SetTitle(" Events ")

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.controls, 0, 1, false)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.telemetry, 0, 3, false).
		AddItem(a.events, 0, 2, false)

	a.rootLayout = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 7, true).
		AddItem(sidebar, 0, 3, false)

	a.tviewApp.SetRoot(a.rootLayout, true)
	a.tviewApp.SetInputCapture(a.handleKeyboard)
}

// Run shows the window until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.stream(ctx)
	go a.watchStale(ctx)
	go func() {
		<-ctx.Done()
		a.tviewApp.Stop()
	}()

	return a.tviewApp.Run()
}

// stream reads snapshots and reconnects when the connection drops.
func (a *App) stream(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := a.client.Watch(ctx)
		if err != nil {
			a.setConnected(false)
			a.addEvent("WARN", "connect failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		a.setConnected(true)
		a.addEvent("INFO", "connected")
		a.readLoop(ctx, conn)
		conn.Close()
		a.setConnected(false)
	}
}

func (a *App) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var snap mount.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() == nil {
				a.addEvent("WARN", "stream closed: %v", err)
			}
			return
		}
		a.apply(snap)
	}
}

// apply records snap and redraws.
func (a *App) apply(snap mount.Snapshot) {
	a.mu.Lock()
	prev, had := a.last, a.have
	a.last = snap
	a.have = true
	a.received = time.Now()
	a.mu.Unlock()

	if had {
		for _, ev := range snapshotEvents(prev, snap) {
			a.addEvent(ev.level, "%s", ev.text)
		}
	}
	text := formatTelemetry(snap, true)
	a.tviewApp.QueueUpdateDraw(func() {
		a.telemetry.SetText(text)
	})
}

// watchStale greys out the telemetry when snapshots stop arriving.
func (a *App) watchStale(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		a.mu.Lock()
		stale := a.have && time.Since(a.received) > staleAfter
		snap := a.last
		a.mu.Unlock()
		if stale {
			text := formatTelemetry(snap, false)
			a.tviewApp.QueueUpdateDraw(func() {
				a.telemetry.SetText(text)
			})
		}
	}
}

func (a *App) setConnected(on bool) {
	title := " Mount "
	if !on {
		title = " Mount (disconnected) "
	}
	a.tviewApp.QueueUpdateDraw(func() {
		a.telemetry.SetTitle(title)
	})
}

func (a *App) addEvent(level, format string, args ...interface{}) {
	color := "white"
	switch level {
	case "ERROR":
		color = "red"
	case "WARN":
		color = "yellow"
	}
	line := fmt.Sprintf("[gray]%s[-] [%s]%-5s[-] %s\n",
		time.Now().Format("15:04:05"), color, level, fmt.Sprintf(format, args...))
	a.tviewApp.QueueUpdateDraw(func() {
		fmt.Fprint(a.events, line)
		a.events.ScrollToEnd()
	})
}

// act runs a client call in the background and reports failures.
func (a *App) act(name string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.addEvent("ERROR", "%s: %v", name, err)
			return
		}
		a.addEvent("INFO", "%s", name)
	}()
}

func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	key := event.Key()
	r := event.Rune()

	switch {
	case r == 'q':
		a.tviewApp.Stop()
		return nil
	case key == tcell.KeyEscape || r == 'a':
		a.act("abort", a.client.Abort)
		return nil
	case r == 't':
		a.mu.Lock()
		on := !a.last.Tracking
		a.mu.Unlock()
		a.act(fmt.Sprintf("tracking %v", on), func(ctx context.Context) error {
			return a.client.SetTracking(ctx, on)
		})
		return nil
	case r == 'H':
		a.act("home", a.client.Home)
		return nil
	case r == 'p':
		a.act("park", func(ctx context.Context) error { return a.client.Park(ctx, "") })
		return nil
	case r == 'u':
		a.act("unpark", a.client.Unpark)
		return nil
	case r == 'c':
		a.events.Clear()
		return nil
	}
	return event
}

type event struct {
	level string
	text  string
}

// snapshotEvents lists the notable changes between two snapshots.
func snapshotEvents(prev, cur mount.Snapshot) []event {
	var out []event
	if prev.SlewState != cur.SlewState {
		out = append(out, event{"INFO", fmt.Sprintf("state %s -> %s", prev.SlewState, cur.SlewState)})
	}
	if prev.Tracking != cur.Tracking {
		out = append(out, event{"INFO", fmt.Sprintf("tracking %s", onOff(cur.Tracking))})
	}
	if prev.PierSide != cur.PierSide && prev.PierSide != "" {
		out = append(out, event{"INFO", fmt.Sprintf("pier side %s", cur.PierSide)})
	}
	if !prev.AtPark && cur.AtPark {
		out = append(out, event{"INFO", fmt.Sprintf("parked at %s", cur.ParkName)})
	}
	if prev.PulseGuiding != cur.PulseGuiding {
		out = append(out, event{"DEBUG", fmt.Sprintf("pulse ra %s dec %s",
			onOff(cur.PulseGuiding[0]), onOff(cur.PulseGuiding[1]))})
	}
	if prev.PECEnabled != cur.PECEnabled {
		out = append(out, event{"INFO", fmt.Sprintf("pec %s", onOff(cur.PECEnabled))})
	}
	if !prev.LimitAlarm && cur.LimitAlarm {
		out = append(out, event{"WARN", fmt.Sprintf("limit %s: %s", cur.LimitEvent, cur.LimitMessage)})
	}
	if prev.LimitAlarm && !cur.LimitAlarm {
		out = append(out, event{"INFO", "limit cleared"})
	}
	if prev.MountError == "" && cur.MountError != "" {
		out = append(out, event{"ERROR", "mount error: " + cur.MountError})
	}
	return out
}

// formatTelemetry renders a snapshot for the telemetry panel.
func formatTelemetry(s mount.Snapshot, live bool) string {
	value := "white"
	if !live {
		value = "gray"
	}
	var b strings.Builder
	line := func(label, format string, args ...interface{}) {
		fmt.Fprintf(&b, "[gray]%-10s[-] [%s]%s[-]\n", label, value, fmt.Sprintf(format, args...))
	}

	status := "[green]LIVE[-]"
	if !live {
		status = "[red]STALE[-]"
	}
	fmt.Fprintf(&b, "[yellow]MOUNT[-] %s  [gray]%s[-]\n\n", status, s.Time.Local().Format("15:04:05"))

	line("RA", "%s", hms(s.RightAscension))
	line("Dec", "%s", dms(s.Declination))
	line("Alt", "%.3f°", s.Altitude)
	line("Az", "%.3f°", s.Azimuth)
	line("LST", "%s", hms(s.SiderealTime))
	line("Pier", "%s", s.PierSide)
	b.WriteString("\n")
	line("Axes", "%.4f° / %.4f°", s.AppAxes[0], s.AppAxes[1])
	line("Motor", "%.4f° / %.4f°", s.MountAxes[0], s.MountAxes[1])
	b.WriteString("\n")
	line("State", "%s", s.SlewState)
	if s.Tracking {
		line("Tracking", "%s", s.TrackingRate)
	} else {
		line("Tracking", "off")
	}
	if s.AtPark {
		line("Park", "%s", s.ParkName)
	}
	if s.PECEnabled {
		line("PEC", "bin %d factor %.4f", s.PECBin, s.PECFactor)
	} else {
		line("PEC", "off")
	}
	if s.LimitAlarm {
		fmt.Fprintf(&b, "\n[red]LIMIT %s[-] %s\n", s.LimitEvent, s.LimitMessage)
	}
	if s.MountError != "" {
		fmt.Fprintf(&b, "\n[red]ERROR[-] %s\n", s.MountError)
	}
	return b.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func hms(h float64) string {
	total := int(h*3600 + 0.5)
	return fmt.Sprintf("%02dh %02dm %02ds", total/3600%24, (total/60)%60, total%60)
}

func dms(d float64) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int(d*3600 + 0.5)
	return fmt.Sprintf("%s%02d° %02d' %02d\"", sign, total/3600, (total/60)%60, total%60)
}
