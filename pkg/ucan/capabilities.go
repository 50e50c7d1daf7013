// pkg/ucan/capabilities.go
package ucan

import (
	"strings"

	"github.com/relves/tokenclaim/pkg/types"
)

// CapabilityInfo represents a validated capability
type CapabilityInfo struct {
	With string
	Can  string
}

// CapabilityAllows checks if a held capability grants the required capability.
func CapabilityAllows(held, required string) bool {
	// Wildcard grants everything
	if held == types.CapabilityAll || held == "*" {
		return true
	}

	// Exact match
	if held == required {
		return true
	}

	// Hierarchical: claims/admin allows claims/admin/*
	if strings.HasPrefix(required, held+"/") {
		return true
	}

	return false
}
