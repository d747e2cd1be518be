// Command taskqctl drives synthetic workloads through taskq queues.
package main

import (
	"os"

	"github.com/vnykmshr/taskq/internal/cli"
)

func main() {
	if err := cli.NewRoot(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
