// Package cli wires the tokenclaim command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the tokenclaim root command. Without a subcommand
// it runs serve.
func NewRootCommand(serve func() error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokenclaim",
		Short: "tokenclaim - nonce-gated token distribution",
		Long: `Serve campaign registries over UCAN RPC, or issue operator delegations
for an authority key.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	cmd.AddCommand(NewDelegateCommand())

	return cmd
}
