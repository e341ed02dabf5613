// Command echoq is the echoq delayed-message dispatcher process.
//
// Usage:
//
//	echoq serve [--config path/to/config.yaml]
//	echoq enqueue --after 5s "message text"
//	echoq history [--limit N]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "echoq: %v\n", err)
		os.Exit(1)
	}
}
