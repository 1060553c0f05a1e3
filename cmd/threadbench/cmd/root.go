// Package cmd holds the threadbench command tree, grounded on the
// pack's cobra command shape (linkerd2 multicluster's flag/subcommand
// wiring): a persistent --verbose flag toggling the log level, with
// the actual work delegated to subcommands.
package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

// NewRootCommand returns the threadbench command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "threadbench",
		Short: "Exercise the conversation thread engine without a network",
		Long: `threadbench drives the conversation thread engine end to end over an
in-memory repository, for manual exercising of scenarios that would
otherwise require two live peers.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newExchangeCommand())
	return root
}
