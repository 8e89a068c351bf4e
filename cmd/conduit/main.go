// Command conduit runs integration routes declared in YAML and serves the
// management API next to them.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
