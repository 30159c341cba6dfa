package dedupe

import "github.com/sells-group/crm-dedupe/internal/match"

// Action is the recommended disposition for an incoming contact record.
type Action string

// Recommended actions.
const (
	// ActionCreate records the incoming contact as a new lead.
	ActionCreate Action = "create"
	// ActionMerge folds the incoming contact into the best candidate.
	ActionMerge Action = "merge"
	// ActionReview defers the decision to a human reviewer.
	ActionReview Action = "review"
	// ActionIgnore discards the incoming contact without a record.
	ActionIgnore Action = "ignore"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionMerge, ActionReview, ActionIgnore:
		return true
	}
	return false
}

// Route maps the best candidate confidence to a recommended action. A zero
// confidence (no candidates) always routes to create.
func Route(calc *match.Calculator, confidence float64) Action {
	switch {
	case confidence <= 0:
		return ActionCreate
	case calc.ShouldAutoMerge(confidence):
		return ActionMerge
	case calc.ShouldReview(confidence):
		return ActionReview
	default:
		return ActionCreate
	}
}
