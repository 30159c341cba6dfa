package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/crm-dedupe/internal/config"
)

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		EmailWeight:          0.4,
		PhoneWeight:          0.4,
		NameWeight:           0.2,
		AddressWeight:        0.1,
		RecencyPenalty:       0.1,
		RecencyWindowDays:    7,
		SimilarNameThreshold: 0.7,
		AutoMergeThreshold:   0.8,
		ReviewThreshold:      0.4,
	}
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestConfidence_ExactEmailAndPhone(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	incoming := Fields{Email: "john@x.com", Phone: "9876543210", FirstName: "John", LastName: "Doe"}
	existing := Fields{
		Email: "JOHN@X.COM", Phone: "+91-9876543210",
		FirstName: "Mary", LastName: "Smith",
		CreatedAt: testNow.AddDate(0, -2, 0),
	}

	c := calc.Confidence(incoming, existing, testNow)
	assert.GreaterOrEqual(t, c, 0.8)
	assert.True(t, calc.ShouldAutoMerge(c))
}

func TestConfidence_EmailOnlyWithSimilarName(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	incoming := Fields{Email: "john@x.com", Phone: "9876543210", FirstName: "John", LastName: "Doe"}
	existing := Fields{
		Email: "john@x.com", Phone: "1112223333",
		FirstName: "Jon", LastName: "Doe",
		CreatedAt: testNow.AddDate(0, -2, 0),
	}

	c := calc.Confidence(incoming, existing, testNow)
	assert.GreaterOrEqual(t, c, 0.4)
	assert.Less(t, c, 0.8)
	assert.True(t, calc.ShouldReview(c))
	assert.False(t, calc.ShouldAutoMerge(c))
}

func TestConfidence_EmptyFieldsContributeNothing(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	// Two records that are both blank on email must not count as an email
	// match.
	incoming := Fields{Phone: "9876543210"}
	existing := Fields{Phone: "9876543210", CreatedAt: testNow.AddDate(0, -2, 0)}

	c := calc.Confidence(incoming, existing, testNow)
	assert.InDelta(t, 0.4, c, 0.001)
}

func TestConfidence_RecencyPenalty(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	incoming := Fields{Email: "john@x.com"}
	old := Fields{Email: "john@x.com", CreatedAt: testNow.AddDate(0, 0, -30)}
	recent := Fields{Email: "john@x.com", CreatedAt: testNow.AddDate(0, 0, -2)}

	assert.InDelta(t, 0.4, calc.Confidence(incoming, old, testNow), 0.001)
	assert.InDelta(t, 0.3, calc.Confidence(incoming, recent, testNow), 0.001)
}

func TestConfidence_EmailMatchNeverRoutesToCreate(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	// Even with the recency penalty, an exact email match stays at or above
	// the review threshold minus the penalty.
	incoming := Fields{Email: "a@b.com"}
	existing := Fields{Email: "a@b.com", CreatedAt: testNow}

	c := calc.Confidence(incoming, existing, testNow)
	assert.GreaterOrEqual(t, c, 0.4-0.1)
}

func TestConfidence_ClampedToZero(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	incoming := Fields{Email: "a@b.com", Phone: "111"}
	existing := Fields{Email: "c@d.com", Phone: "222", CreatedAt: testNow}

	c := calc.Confidence(incoming, existing, testNow)
	assert.GreaterOrEqual(t, c, 0.0)
}

func TestConfidence_Bounds(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	cases := []struct {
		incoming, existing Fields
	}{
		{Fields{}, Fields{}},
		{Fields{Email: "a@b.com"}, Fields{Email: "a@b.com"}},
		{
			Fields{Email: "a@b.com", Phone: "9876543210", FirstName: "John", LastName: "Doe", Address: "123 Main St"},
			Fields{Email: "a@b.com", Phone: "9876543210", FirstName: "John", LastName: "Doe", Address: "123 Main St", CreatedAt: testNow.AddDate(-1, 0, 0)},
		},
	}
	for _, tc := range cases {
		c := calc.Confidence(tc.incoming, tc.existing, testNow)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestConfidence_AsymmetricByDesign(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	// The penalty keys off the existing side's CreatedAt, so swapping the
	// argument order changes the score when only one side is recent.
	a := Fields{Email: "a@b.com"}
	b := Fields{Email: "a@b.com", CreatedAt: testNow.AddDate(0, 0, -1)}

	assert.NotEqual(t, calc.Confidence(a, b, testNow), calc.Confidence(b, a, testNow))
}

func TestReasons(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	incoming := Fields{Email: "john@x.com", Phone: "9876543210", FirstName: "John", LastName: "Doe"}
	existing := Fields{Email: "john@x.com", Phone: "09876543210", FirstName: "Jon", LastName: "Doe"}

	reasons := calc.Reasons(incoming, existing)
	assert.Contains(t, reasons, "Exact email match")
	assert.Contains(t, reasons, "Exact phone match")
	assert.Contains(t, reasons, "Similar name")
}

func TestReasons_NoMatches(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	reasons := calc.Reasons(Fields{Email: "a@b.com"}, Fields{Email: "c@d.com"})
	assert.Empty(t, reasons)
}

func TestThresholdBoundaries(t *testing.T) {
	calc := NewCalculator(testMatchingConfig())

	assert.True(t, calc.ShouldAutoMerge(0.8))
	assert.False(t, calc.ShouldAutoMerge(0.799))
	assert.True(t, calc.ShouldReview(0.4))
	assert.True(t, calc.ShouldReview(0.8))
	assert.False(t, calc.ShouldReview(0.399))
}
