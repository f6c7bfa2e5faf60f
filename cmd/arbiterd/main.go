// Command arbiterd runs the Arbiter task orchestration daemon and its
// companion operator commands.
package main

import (
	"os"
)

// Exit codes, shared by every subcommand: 0 success, 1 generic failure,
// 2 invalid input, 3 unhealthy (status: store breaker open; drain:
// deadline elapsed with assignments still in flight).
const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidInput = 2
	exitUnhealthy    = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitInvalidInput)
	}

	cmd, rest := os.Args[1], os.Args[2:]
	var code int
	switch cmd {
	case "serve":
		code = runServe(rest)
	case "validate-spec":
		code = runValidateSpec(rest)
	case "status":
		code = runStatus(rest)
	case "drain":
		code = runDrain(rest)
	case "-h", "--help", "help":
		usage()
		code = exitOK
	default:
		usage()
		code = exitInvalidInput
	}
	os.Exit(code)
}
