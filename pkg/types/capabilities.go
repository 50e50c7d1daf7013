// pkg/types/capabilities.go
package types

// Capability constants for UCAN authorization.
const (
	CapabilityAll    = "claims/*"
	CapabilityCreate = "claims/create"
	CapabilityClaim  = "claims/claim"
	CapabilityStatus = "claims/status"
	CapabilityRevoke = "claims/revoke"
)

// ResourceURI creates a resource URI for a registry.
func ResourceURI(registry Address) string {
	return "claims://registry/" + registry.String()
}
