package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/storacha/go-ucanto/core/delegation"

	"github.com/relves/tokenclaim/internal/config"
	"github.com/relves/tokenclaim/pkg/capabilities"
	"github.com/relves/tokenclaim/pkg/ucan"
)

// DelegateOptions holds flags for the delegate command.
type DelegateOptions struct {
	Key      string
	Audience string
	TTL      time.Duration
	Proofs   []string
}

// NewDelegateCommand creates the delegate command.
func NewDelegateCommand() *cobra.Command {
	opts := &DelegateOptions{}

	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Issue a claims/claim delegation to an operator",
		Long: `Sign a delegation granting claims/claim on the authority to an operator DID.

The authority key comes from --key or TOKENCLAIM_PRIVATE_KEY. The encoded
delegation is written to stdout and is passed as the delegation caveat of
claims/claim invocations.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelegate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "base64 ed25519 authority key (default TOKENCLAIM_PRIVATE_KEY)")
	cmd.Flags().StringVarP(&opts.Audience, "audience", "a", "", "operator DID receiving the delegation")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "delegation lifetime, 0 for no expiration")
	cmd.Flags().StringArrayVar(&opts.Proofs, "proof", nil, "encoded parent delegation (repeatable)")
	_ = cmd.MarkFlagRequired("audience")

	return cmd
}

func runDelegate(opts *DelegateOptions, cmd *cobra.Command) error {
	if opts.TTL < 0 {
		return fmt.Errorf("ttl must not be negative, got %s", opts.TTL)
	}

	cfg := config.Config{PrivateKey: opts.Key}
	if cfg.Ephemeral() {
		if err := config.ParseEnv(&cfg); err != nil {
			return err
		}
	}
	if cfg.Ephemeral() {
		return fmt.Errorf("no authority key: set --key or TOKENCLAIM_PRIVATE_KEY")
	}
	priv, err := cfg.LoadPrivateKey()
	if err != nil {
		return err
	}
	issuer, err := ucan.NewIssuer(priv)
	if err != nil {
		return err
	}

	proofs := make([]delegation.Delegation, 0, len(opts.Proofs))
	for _, encoded := range opts.Proofs {
		proof, err := ucan.ParseDelegation(encoded)
		if err != nil {
			return fmt.Errorf("invalid proof: %w", err)
		}
		proofs = append(proofs, proof)
	}

	caps := []ucan.CapabilityInfo{{
		With: issuer.DID(),
		Can:  capabilities.AbilityClaim,
	}}
	dlg, err := issuer.Delegate(opts.Audience, caps, proofs, opts.TTL)
	if err != nil {
		return err
	}

	encoded, err := ucan.FormatDelegation(dlg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), encoded)
	return err
}
