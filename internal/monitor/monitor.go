// Package monitor renders the live event stream as a terminal value grid.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"cztelemetry/internal/hub"
	"cztelemetry/internal/link"
	"cztelemetry/internal/telemetry"
)

// DefaultFields are the readings shown when no selection is given.
var DefaultFields = []string{"temperature", "pressure", "altitude"}

var units = map[string]string{
	"temperature": "°C",
	"pressure":    "Pa",
	"altitude":    "m",
}

const recentDiagnostics = 8

// ParseFields validates a field selection against the record's JSON keys.
func ParseFields(names []string) ([]string, error) {
	if len(names) == 0 {
		return DefaultFields, nil
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if _, ok := (telemetry.Record{}).Field(n); !ok {
			return nil, fmt.Errorf("unknown field %q (want header, timestamp, temperature, pressure, altitude or checksum)", n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

type eventMsg link.Event

type closedMsg struct{}

// Model is the bubbletea model. It only reads from the events channel.
type Model struct {
	events <-chan link.Event
	fields []string
	source string

	last    *telemetry.Record
	lastAt  time.Time
	records uint64
	diags   map[link.DiagnosticKind]uint64
	recent  []string

	ended  bool
	endErr string
}

func New(events <-chan link.Event, source string, fields []string) Model {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return Model{
		events: events,
		fields: fields,
		source: source,
		diags:  make(map[link.DiagnosticKind]uint64),
	}
}

func waitForEvent(ch <-chan link.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd { return waitForEvent(m.events) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case eventMsg:
		m = m.apply(link.Event(msg))
		return m, waitForEvent(m.events)
	case closedMsg:
		m.ended = true
	}
	return m, nil
}

func (m Model) apply(ev link.Event) Model {
	switch ev.Kind {
	case link.EventRecord:
		r := ev.Record
		m.last = &r
		m.lastAt = ev.At
		m.records++
	case link.EventDiagnostic:
		m.diags[ev.Diagnostic.Kind]++
		line := fmt.Sprintf("%s %-9s %s", ev.At.Format("15:04:05.000"), ev.Diagnostic.Kind, ev.Diagnostic.Detail)
		m.recent = append(m.recent, line)
		if len(m.recent) > recentDiagnostics {
			m.recent = m.recent[len(m.recent)-recentDiagnostics:]
		}
	case link.EventDone:
		m.ended = true
		if ev.Err != nil {
			m.endErr = ev.Err.Error()
		}
	}
	return m
}

func (m Model) View() string {
	var b strings.Builder
	state := "live"
	if m.ended {
		state = "ended"
		if m.endErr != "" {
			state += ": " + m.endErr
		}
	}
	fmt.Fprintf(&b, "cztelemetry  %s  [%s]\n\n", m.source, state)

	for _, f := range m.fields {
		val := "-"
		if m.last != nil {
			val = formatField(*m.last, f)
		}
		fmt.Fprintf(&b, "  %-12s %14s %s\n", f, val, units[f])
	}
	if m.last != nil {
		fmt.Fprintf(&b, "\n  last record  %s\n", m.lastAt.Format("15:04:05.000"))
	}

	fmt.Fprintf(&b, "\n  records %d", m.records)
	for _, k := range link.DiagnosticKinds {
		if n := m.diags[k]; n > 0 {
			fmt.Fprintf(&b, "  %s %d", k, n)
		}
	}
	b.WriteString("\n")

	if len(m.recent) > 0 {
		b.WriteString("\n  diagnostics\n")
		for _, line := range m.recent {
			b.WriteString("  " + line + "\n")
		}
	}
	b.WriteString("\n  q to quit\n")
	return b.String()
}

func formatField(r telemetry.Record, name string) string {
	switch name {
	case "header", "checksum":
		v, _ := r.Field(name)
		return fmt.Sprintf("0x%X", uint64(v))
	case "timestamp":
		return fmt.Sprintf("%d", r.Timestamp)
	}
	v, _ := r.Field(name)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

// Run drives the model until the user quits or ctx is done. The display stays
// up after the stream ends so the last values remain readable.
func Run(ctx context.Context, sub *hub.Subscription[link.Event], source string, fields []string, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(sub.C(), source, fields), opts...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
