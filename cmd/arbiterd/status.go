package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// statusView mirrors api's unexported statusResponse; arbiterd only needs
// the fields, not the handler that produced them.
type statusView struct {
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Components    map[string]string `json:"components"`
}

// runStatus polls the observer API's /status endpoint and prints a
// human-readable rollup, exiting 3 when the store's breaker is open.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "base URL of a running arbiterd's API server")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	fs.Parse(args)

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(*addr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitFailure
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status: unexpected response: %s\n", resp.Status)
		return exitFailure
	}

	var view statusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		fmt.Fprintf(os.Stderr, "status: decode: %v\n", err)
		return exitFailure
	}

	fmt.Printf("uptime: %s\n", humanize.Time(time.Now().Add(-time.Duration(view.UptimeSeconds*float64(time.Second)))))

	names := make([]string, 0, len(view.Components))
	for name := range view.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	unhealthy := false
	for _, name := range names {
		state := view.Components[name]
		fmt.Printf("  %-18s %s\n", name, state)
		if name == "store" && state == "open" {
			unhealthy = true
		}
	}

	if unhealthy {
		fmt.Println("status: store breaker is open")
		return exitUnhealthy
	}
	return exitOK
}
