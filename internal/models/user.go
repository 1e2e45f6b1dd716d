package models

// User is the identity resolved from a request. Identity management lives in
// the external auth provider; this service trusts the resolved identity as-is.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Tier  string `json:"tier"`
}

// Plan tier constants
const (
	TierFree = "free"
	TierPro  = "pro"
)

// IsValidTier checks if a plan tier is valid
func IsValidTier(tier string) bool {
	switch tier {
	case TierFree, TierPro:
		return true
	default:
		return false
	}
}

// NormalizeTier maps unknown tiers to the free plan.
func NormalizeTier(tier string) string {
	if IsValidTier(tier) {
		return tier
	}
	return TierFree
}
