package match

import (
	"strings"
	"time"

	"github.com/sells-group/crm-dedupe/internal/config"
)

// Fields carries the comparable identity fields of one contact record.
// CreatedAt is zero for records that do not exist in storage yet.
type Fields struct {
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Address   string
	CreatedAt time.Time
}

// FullName joins first and last name for similarity comparison.
func (f Fields) FullName() string {
	return strings.TrimSpace(f.FirstName + " " + f.LastName)
}

// Calculator computes duplicate confidence scores from weighted field
// matches. All weights and thresholds come from configuration.
type Calculator struct {
	cfg config.MatchingConfig
}

// NewCalculator creates a Calculator with the given matching config.
func NewCalculator(cfg config.MatchingConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Confidence scores the likelihood that incoming and existing describe the
// same contact, clamped to [0,1]. The recency penalty applies only to the
// existing side: a record created within the configured window is less
// likely to already have a duplicate, so the score is deliberately
// asymmetric. The result is deterministic for a fixed now.
func (c *Calculator) Confidence(incoming, existing Fields, now time.Time) float64 {
	score := 0.0

	inEmail := NormalizeEmail(incoming.Email)
	exEmail := NormalizeEmail(existing.Email)
	if inEmail != "" && inEmail == exEmail {
		score += c.cfg.EmailWeight
	}

	inPhone := NormalizePhone(incoming.Phone)
	exPhone := NormalizePhone(existing.Phone)
	if inPhone != "" && inPhone == exPhone {
		score += c.cfg.PhoneWeight
	}

	score += NameSimilarity(incoming.FullName(), existing.FullName()) * c.cfg.NameWeight
	score += AddressSimilarity(incoming.Address, existing.Address) * c.cfg.AddressWeight

	if !existing.CreatedAt.IsZero() {
		window := time.Duration(c.cfg.RecencyWindowDays) * 24 * time.Hour
		if now.Sub(existing.CreatedAt) < window {
			score -= c.cfg.RecencyPenalty
		}
	}

	return clamp01(score)
}

// Reasons returns the human-readable match reasons for a candidate pair.
func (c *Calculator) Reasons(incoming, existing Fields) []string {
	var reasons []string

	inEmail := NormalizeEmail(incoming.Email)
	if inEmail != "" && inEmail == NormalizeEmail(existing.Email) {
		reasons = append(reasons, "Exact email match")
	}

	inPhone := NormalizePhone(incoming.Phone)
	if inPhone != "" && inPhone == NormalizePhone(existing.Phone) {
		reasons = append(reasons, "Exact phone match")
	}

	if NameSimilarity(incoming.FullName(), existing.FullName()) > c.cfg.SimilarNameThreshold {
		reasons = append(reasons, "Similar name")
	}

	return reasons
}

// ShouldAutoMerge reports whether confidence warrants an automatic merge.
func (c *Calculator) ShouldAutoMerge(confidence float64) bool {
	return confidence >= c.cfg.AutoMergeThreshold
}

// ShouldReview reports whether confidence warrants manual review.
func (c *Calculator) ShouldReview(confidence float64) bool {
	return confidence >= c.cfg.ReviewThreshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
