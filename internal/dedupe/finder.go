package dedupe

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/match"
	"github.com/sells-group/crm-dedupe/internal/record"
)

// Finder locates potential duplicates of an incoming contact across both
// record kinds and scores each one.
type Finder struct {
	store record.Store
	calc  *match.Calculator
	log   *zap.Logger
}

// NewFinder creates a Finder over the given store and calculator.
func NewFinder(store record.Store, calc *match.Calculator) *Finder {
	return &Finder{
		store: store,
		calc:  calc,
		log:   zap.L().With(zap.String("component", "dedupe.finder")),
	}
}

// Find returns scored duplicate candidates for the payload, highest
// confidence first. Candidates that score zero are dropped. Leads already
// converted to customers never appear; their customer side does.
func (f *Finder) Find(ctx context.Context, payload record.ContactPayload) ([]Candidate, error) {
	return f.FindIn(ctx, f.store, payload)
}

// FindIn runs the candidate search against a caller-supplied store, so the
// lookup can share the caller's transaction.
func (f *Finder) FindIn(ctx context.Context, store record.Store, payload record.ContactPayload) ([]Candidate, error) {
	email := match.NormalizeEmail(payload.Email)
	phone := match.NormalizePhone(payload.Phone)

	incoming := match.Fields{
		Email:     payload.Email,
		Phone:     payload.Phone,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Address:   payload.Address,
	}
	now := time.Now()

	leads, err := store.FindLeadsByContact(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	customers, err := store.FindCustomersByContact(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(leads)+len(customers))
	for i := range leads {
		l := &leads[i]
		existing := match.Fields{
			Email:     l.Email,
			Phone:     l.Phone,
			FirstName: l.FirstName,
			LastName:  l.LastName,
			Address:   l.Address,
			CreatedAt: l.CreatedAt,
		}
		if c := f.score(incoming, existing, now, l.Ref(), RecordSummary{
			Name: l.FullName(), Email: l.Email, Phone: l.Phone,
		}); c != nil {
			candidates = append(candidates, *c)
		}
	}
	for i := range customers {
		cu := &customers[i]
		existing := match.Fields{
			Email:     cu.Email,
			Phone:     cu.Phone,
			FirstName: cu.FirstName,
			LastName:  cu.LastName,
			Address:   cu.Address,
			CreatedAt: cu.CreatedAt,
		}
		if c := f.score(incoming, existing, now, cu.Ref(), RecordSummary{
			Name: cu.FullName(), Email: cu.Email, Phone: cu.Phone,
		}); c != nil {
			candidates = append(candidates, *c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	f.log.Debug("candidate search complete",
		zap.Int("leads", len(leads)),
		zap.Int("customers", len(customers)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (f *Finder) score(incoming, existing match.Fields, now time.Time, ref record.Ref, summary RecordSummary) *Candidate {
	confidence := f.calc.Confidence(incoming, existing, now)
	if confidence <= 0 {
		return nil
	}
	return &Candidate{
		Record:     ref,
		Summary:    summary,
		Confidence: confidence,
		Reasons:    f.calc.Reasons(incoming, existing),
	}
}
