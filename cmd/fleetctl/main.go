package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"shaka-fleet/cmd/fleetctl/ui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "Fleet backend base URL")
	timeout := flag.Duration("timeout", 15*time.Second, "Request timeout")
	flag.Parse()

	p := tea.NewProgram(ui.NewRootModel(ui.NewSession(*server, *timeout)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetctl:", err)
		os.Exit(1)
	}
}
