package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/epiphany-db/monitor/internal/observer/app"
	"github.com/epiphany-db/monitor/internal/observer/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/monitor", "WebSocket URL of the monitor server")
	flag.Parse()

	ws := client.NewWSClient(*wsURL)
	defer ws.Close()
	httpClient := client.NewHTTPClient(client.HTTPBase(*wsURL))

	m := app.New(*wsURL, ws, httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
