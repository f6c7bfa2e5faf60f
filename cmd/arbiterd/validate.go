package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/arbiter-hq/arbiter/internal/verdict"
)

// runValidateSpec reads a JSON working spec file and checks it against
// verdict.WorkingSpec.Validate, the same bounds the verdict generator
// itself assumes hold before scoring artifacts against it.
func runValidateSpec(args []string) int {
	fs := flag.NewFlagSet("validate-spec", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: arbiterd validate-spec <file>")
		return exitInvalidInput
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate-spec: %v\n", err)
		return exitFailure
	}

	var spec verdict.WorkingSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		fmt.Fprintf(os.Stderr, "validate-spec: invalid JSON: %v\n", err)
		return exitInvalidInput
	}

	if err := spec.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "validate-spec: %v\n", err)
		return exitInvalidInput
	}

	fmt.Printf("%s: ok (riskTier=%d, %d acceptance criteria)\n", spec.ID, spec.RiskTier, len(spec.Acceptance))
	return exitOK
}
