// handpad is a terminal hand controller for mountd.
package main

import (
	"flag"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/mountcore/internal/api"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "mountd address")
	speed := flag.Int("speed", 6, "Initial hand controller speed (1-8)")
	flag.Parse()

	m := newModel(api.NewClient(*addr), *speed)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("handpad: %v", err)
	}
}
