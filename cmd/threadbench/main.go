// Command threadbench drives the conversation engine end to end over
// an in-memory repository, for manual exercising of the two-peer
// message exchange scenario.
package main

import (
	"fmt"
	"os"

	"github.com/openthread/engine/cmd/threadbench/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
