// Command inboxctl operates inbox stores from the command line: adding and
// deleting messages, inspecting inboxes and running migrations.
package main

import (
	"os"

	"github.com/rbaliyan/inbox/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
