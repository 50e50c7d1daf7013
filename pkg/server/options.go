package server

import (
	"github.com/storacha/go-ucanto/principal"

	"github.com/relves/tokenclaim/pkg/claims"
)

// Config holds server configuration.
type Config struct {
	Signer        principal.Signer
	ClaimsService *claims.Service
	Validator     RequestValidator
}

// Option configures the server.
type Option func(*Config)

// WithSigner sets the UCAN signer.
func WithSigner(s principal.Signer) Option {
	return func(c *Config) {
		c.Signer = s
	}
}

// WithClaimsService sets the claims service.
func WithClaimsService(svc *claims.Service) Option {
	return func(c *Config) {
		c.ClaimsService = svc
	}
}

// WithValidator sets a request validator, such as SuspendedOperators.
// Without one every invocation is admitted.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
