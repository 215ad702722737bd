// Command speaker-forge manages a file of XTTS speaker profiles: listing and
// editing speakers, mixing new voices from stored ones, moving speakers between
// files, and serving previews and mixes over NATS.
//
// Usage:
//
//	speaker-forge [--config file] [--file speakers.spk] <command> [args]
package main

import (
	"fmt"
	"os"
)

func main() {
	err := newRootCmd(newApp(os.Stdout)).Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "speaker-forge exited with error: %v\n", err)
		os.Exit(1)
	}
}
