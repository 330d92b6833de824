package main

import (
	"context"
	"fmt"
	"os"
)

// buildVersion is a fixed marker; this module has no release pipeline
// that would inject one via -ldflags.
const buildVersion = "daqbuffer-go/4"

func runVersion(_ context.Context, _ []string) error {
	fmt.Fprintln(os.Stdout, buildVersion)
	return nil
}
