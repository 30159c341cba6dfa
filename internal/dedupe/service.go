package dedupe

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/config"
	"github.com/sells-group/crm-dedupe/internal/db"
	"github.com/sells-group/crm-dedupe/internal/match"
	"github.com/sells-group/crm-dedupe/internal/record"
)

// Service wires the finder, ledger, review queue, and merge executor into
// the operations exposed over HTTP and the CLI.
type Service struct {
	ledger   Ledger
	finder   *Finder
	queue    *ReviewQueue
	executor *MergeExecutor
	calc     *match.Calculator
	cfg      config.MatchingConfig
	section  identitySection
	log      *zap.Logger
}

// NewService builds a Service over a database pool.
func NewService(pool db.Pool, cfg *config.Config) *Service {
	store := record.NewPostgresStore(pool)
	ledger := NewPostgresLedger(pool)
	calc := match.NewCalculator(cfg.Matching)
	return &Service{
		ledger:   ledger,
		finder:   NewFinder(store, calc),
		queue:    NewReviewQueue(ledger, cfg.Review),
		executor: NewMergeExecutor(pool, ledger),
		calc:     calc,
		cfg:      cfg.Matching,
		section:  advisorySection(pool),
		log:      zap.L().With(zap.String("component", "dedupe.service")),
	}
}

// newServiceForTest assembles a Service from pre-built parts. The identity
// section degenerates to a plain call over the given store.
func newServiceForTest(store record.Store, ledger Ledger, finder *Finder, queue *ReviewQueue, executor *MergeExecutor, calc *match.Calculator, cfg config.MatchingConfig) *Service {
	return &Service{
		ledger:   ledger,
		finder:   finder,
		queue:    queue,
		executor: executor,
		calc:     calc,
		cfg:      cfg,
		section: func(_ context.Context, _ int64, fn func(store record.Store) error) error {
			return fn(store)
		},
		log: zap.L().With(zap.String("component", "dedupe.service")),
	}
}

// ReviewQueueEntry is a review item joined with its detection, so the
// queue renders without a second round trip per item.
type ReviewQueueEntry struct {
	ReviewItem

	Payload           json.RawMessage `json:"payload,omitempty"`
	Confidence        float64         `json:"confidence"`
	RecommendedAction Action          `json:"recommended_action,omitempty"`
	Candidates        []Candidate     `json:"candidates,omitempty"`
}

// CheckDuplicates scores an incoming contact against existing records,
// persists the detection, and carries out the recommended action where it
// can be taken without a human: create makes the lead immediately, merge
// runs only when auto-execution is enabled, and everything else lands in
// the review queue. The lookup and the action run inside one identity
// section, so two near-simultaneous submissions of the same contact cannot
// both decide to create.
func (s *Service) CheckDuplicates(ctx context.Context, payload record.ContactPayload, actingUser string) (*DetectionRecord, error) {
	if !payload.HasContact() {
		return nil, eris.Wrap(ErrValidation, "payload needs an email or a phone number")
	}

	var detectionID uuid.UUID
	err := s.section(ctx, identityKey(payload), func(store record.Store) error {
		candidates, err := s.finder.FindIn(ctx, store, payload)
		if err != nil {
			return err
		}

		confidence := 0.0
		if len(candidates) > 0 {
			confidence = candidates[0].Confidence
		}
		action := Route(s.calc, confidence)

		raw, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "service: marshal payload")
		}
		d := &DetectionRecord{
			Payload:           raw,
			Candidates:        candidates,
			Confidence:        confidence,
			RecommendedAction: action,
			Status:            DetectionPending,
		}
		if err := s.ledger.CreateDetection(ctx, d); err != nil {
			return err
		}
		detectionID = d.ID

		s.log.Info("duplicate check recorded",
			zap.String("detection_id", d.ID.String()),
			zap.Float64("confidence", confidence),
			zap.String("action", string(action)),
			zap.Int("candidates", len(candidates)),
		)

		switch action {
		case ActionCreate:
			lead, err := payload.ToLead()
			if err != nil {
				return eris.Wrap(err, "service: build lead")
			}
			if err := store.CreateLead(ctx, lead); err != nil {
				return err
			}
			return s.ledger.FinalizeDetection(ctx, d.ID, DetectionAutoProcessed, Outcome{
				FinalAction:   ActionCreate,
				ProcessedBy:   actingUser,
				CreatedLeadID: &lead.ID,
			})

		case ActionMerge:
			if !s.cfg.AutoExecuteMerges {
				_, err := s.queue.Enqueue(ctx, d.ID, confidence)
				return err
			}
			target := d.TopCandidate().Record
			if err := s.autoMerge(ctx, d, payload, target, actingUser); err != nil {
				// The failed operation is on the ledger; hand the case to
				// a reviewer rather than dropping the incoming contact.
				s.log.Warn("auto merge failed, deferring to review",
					zap.String("detection_id", d.ID.String()), zap.Error(err))
				if _, qerr := s.queue.Enqueue(ctx, d.ID, confidence); qerr != nil {
					return qerr
				}
			}
			return nil

		case ActionReview:
			_, err := s.queue.Enqueue(ctx, d.ID, confidence)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ledger.GetDetection(ctx, detectionID)
}

// autoMerge folds the incoming contact into the target record. The lead is
// inserted inside the merge transaction, so a failed merge leaves nothing
// behind except the failed operation.
func (s *Service) autoMerge(ctx context.Context, d *DetectionRecord, payload record.ContactPayload, target record.Ref, actingUser string) error {
	lead, err := payload.ToLead()
	if err != nil {
		return eris.Wrap(err, "service: build lead")
	}
	if _, err := s.executor.MergeIncoming(ctx, lead, target, actingUser, &d.ID, d.Confidence); err != nil {
		return err
	}
	return s.ledger.FinalizeDetection(ctx, d.ID, DetectionAutoProcessed, Outcome{
		FinalAction: ActionMerge,
		ProcessedBy: actingUser,
		MergedInto:  &target,
	})
}

// ProcessDecision applies a human decision to a pending detection. Target
// selects the merge destination; when nil the top candidate is used. Notes,
// when given, replace the default resolution text on the review item. The
// action runs inside the contact's identity section and re-checks the
// detection under the lock, so concurrent decisions on the same case
// resolve to exactly one winner.
func (s *Service) ProcessDecision(ctx context.Context, detectionID uuid.UUID, decision Action, target *record.Ref, actingUser, notes string) (*DetectionRecord, error) {
	switch decision {
	case ActionCreate, ActionMerge, ActionIgnore:
	default:
		return nil, eris.Wrapf(ErrValidation, "%q is not a terminal decision", decision)
	}

	d, err := s.ledger.GetDetection(ctx, detectionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, eris.Wrapf(ErrNotFound, "detection %s", detectionID)
	}
	if d.Status != DetectionPending {
		return nil, eris.Wrapf(ErrConflict, "detection %s already processed", detectionID)
	}

	var payload record.ContactPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return nil, eris.Wrap(err, "service: parse stored payload")
	}

	err = s.section(ctx, identityKey(payload), func(store record.Store) error {
		cur, err := s.ledger.GetDetection(ctx, detectionID)
		if err != nil {
			return err
		}
		if cur == nil {
			return eris.Wrapf(ErrNotFound, "detection %s", detectionID)
		}
		if cur.Status != DetectionPending {
			return eris.Wrapf(ErrConflict, "detection %s already processed", detectionID)
		}

		switch decision {
		case ActionCreate:
			lead, err := payload.ToLead()
			if err != nil {
				return eris.Wrap(err, "service: build lead")
			}
			if err := store.CreateLead(ctx, lead); err != nil {
				return err
			}
			if err := s.ledger.FinalizeDetection(ctx, detectionID, DetectionApproved, Outcome{
				FinalAction:   ActionCreate,
				ProcessedBy:   actingUser,
				CreatedLeadID: &lead.ID,
			}); err != nil {
				return err
			}
			return s.queue.CompleteForDetection(ctx, detectionID, resolutionText(notes, "created new lead"))

		case ActionMerge:
			if target == nil {
				top := cur.TopCandidate()
				if top == nil {
					return eris.Wrap(ErrValidation, "no merge target available")
				}
				target = &top.Record
			}
			lead, err := payload.ToLead()
			if err != nil {
				return eris.Wrap(err, "service: build lead")
			}
			if _, err := s.executor.MergeIncoming(ctx, lead, *target, actingUser, &detectionID, cur.Confidence); err != nil {
				return err
			}
			if err := s.ledger.FinalizeDetection(ctx, detectionID, DetectionApproved, Outcome{
				FinalAction: ActionMerge,
				ProcessedBy: actingUser,
				MergedInto:  target,
			}); err != nil {
				return err
			}
			return s.queue.CompleteForDetection(ctx, detectionID, resolutionText(notes, "merged into existing record"))

		default: // ActionIgnore
			if err := s.ledger.FinalizeDetection(ctx, detectionID, DetectionRejected, Outcome{
				FinalAction: ActionIgnore,
				ProcessedBy: actingUser,
			}); err != nil {
				return err
			}
			return s.queue.CompleteForDetection(ctx, detectionID, resolutionText(notes, "ignored"))
		}
	})
	if err != nil {
		return nil, err
	}
	return s.ledger.GetDetection(ctx, detectionID)
}

func resolutionText(notes, fallback string) string {
	if notes != "" {
		return notes
	}
	return fallback
}

// MergeRecords runs a direct merge between two existing records, outside
// the detection flow. No confidence score backs a manual merge.
func (s *Service) MergeRecords(ctx context.Context, source, target record.Ref, actingUser string) (*MergeOperation, error) {
	return s.executor.Merge(ctx, source, target, actingUser, nil, 0)
}

// GetDetection returns one detection or ErrNotFound.
func (s *Service) GetDetection(ctx context.Context, id uuid.UUID) (*DetectionRecord, error) {
	d, err := s.ledger.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, eris.Wrapf(ErrNotFound, "detection %s", id)
	}
	return d, nil
}

// DetectionHistory lists past detections, newest first.
func (s *Service) DetectionHistory(ctx context.Context, f DetectionFilter) ([]DetectionRecord, error) {
	return s.ledger.ListDetections(ctx, f)
}

// ListReviewQueue lists open review work ordered by priority then age,
// each item carrying its detection's payload and candidates.
func (s *Service) ListReviewQueue(ctx context.Context, f ReviewFilter) ([]ReviewQueueEntry, error) {
	items, err := s.queue.List(ctx, f)
	if err != nil {
		return nil, err
	}

	entries := make([]ReviewQueueEntry, 0, len(items))
	for _, item := range items {
		entry := ReviewQueueEntry{ReviewItem: item}
		d, err := s.ledger.GetDetection(ctx, item.DetectionID)
		if err != nil {
			return nil, err
		}
		if d != nil {
			entry.Payload = d.Payload
			entry.Confidence = d.Confidence
			entry.RecommendedAction = d.RecommendedAction
			entry.Candidates = d.Candidates
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AssignReview claims a review item for a user.
func (s *Service) AssignReview(ctx context.Context, itemID uuid.UUID, userID string) (*ReviewItem, error) {
	if userID == "" {
		return nil, eris.Wrap(ErrValidation, "assignee is required")
	}
	return s.queue.Assign(ctx, itemID, userID)
}

// EscalateReview raises a review item to urgent priority.
func (s *Service) EscalateReview(ctx context.Context, itemID uuid.UUID) error {
	return s.queue.Escalate(ctx, itemID)
}

// MergeHistory lists past merge operations, newest first.
func (s *Service) MergeHistory(ctx context.Context, f MergeFilter) ([]MergeOperation, error) {
	return s.ledger.ListMergeOps(ctx, f)
}
