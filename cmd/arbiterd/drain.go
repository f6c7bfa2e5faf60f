package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// nonTerminalStates mirrors orchestrator.State's non-terminal values; kept
// as a local literal rather than an import since arbiterd only needs the
// three strings, not the orchestrator package's assignment machinery.
var nonTerminalStates = []string{"assigned", "running", "verifying"}

type progressView struct {
	ByState map[string]int `json:"byState"`
}

// runDrain stops the orchestrator's timeout sweeper via /command/stop, then
// polls /progress until every in-flight assignment reaches a terminal
// state or the deadline elapses.
func runDrain(args []string) int {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "base URL of a running arbiterd's API server")
	token := fs.String("token", "", "bearer token authorized for system.stop")
	deadline := fs.Duration("deadline", 2*time.Minute, "how long to wait for in-flight assignments to finish")
	poll := fs.Duration("poll", 2*time.Second, "interval between /progress polls")
	fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(http.MethodPost, *addr+"/command/stop", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drain: %v\n", err)
		return exitFailure
	}
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drain: command/stop: %v\n", err)
		return exitFailure
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "drain: command/stop: unexpected response: %s\n", resp.Status)
		return exitFailure
	}
	fmt.Println("drain: timeout sweeper stopped, waiting for in-flight assignments")

	deadlineAt := time.Now().Add(*deadline)
	ticker := time.NewTicker(*poll)
	defer ticker.Stop()

	for {
		remaining, err := pendingCount(client, *addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drain: progress: %v\n", err)
			return exitFailure
		}
		if remaining == 0 {
			fmt.Println("drain: complete, no in-flight assignments remain")
			return exitOK
		}
		fmt.Printf("drain: %d assignment(s) still in flight\n", remaining)
		if time.Now().After(deadlineAt) {
			fmt.Fprintf(os.Stderr, "drain: timed out with %d assignment(s) still in flight\n", remaining)
			return exitUnhealthy
		}
		<-ticker.C
	}
}

func pendingCount(client *http.Client, addr string) (int, error) {
	resp, err := client.Get(addr + "/progress")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected response: %s", resp.Status)
	}
	var view progressView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return 0, err
	}
	total := 0
	for _, state := range nonTerminalStates {
		total += view.ByState[state]
	}
	return total, nil
}
