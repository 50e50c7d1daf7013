package types

import "fmt"

// ClaimStatus reports whether a nonce has been redeemed.
type ClaimStatus int

const (
	Unclaimed ClaimStatus = iota
	Claimed
)

func (s ClaimStatus) String() string {
	switch s {
	case Claimed:
		return "Claimed"
	case Unclaimed:
		return "Unclaimed"
	default:
		return fmt.Sprintf("ClaimStatus(%d)", int(s))
	}
}

func (s ClaimStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ClaimStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Claimed":
		*s = Claimed
	case "Unclaimed":
		*s = Unclaimed
	default:
		return fmt.Errorf("unknown claim status %q", text)
	}
	return nil
}
