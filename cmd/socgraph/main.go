// Command socgraph builds network topology from endpoint logs and scores
// security events against it.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
