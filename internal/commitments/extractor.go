package commitments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// maxPerRun bounds one extraction pass so a backlog of unprocessed mail
// cannot blow the cycle deadline. Leftovers wait for the next cycle.
const maxPerRun = 200

// expireAfterDays retires open commitments that never had a due date.
const expireAfterDays = 30

// minBodyLen skips bodies too short to carry a commitment. Matches the
// readiness threshold the comms gate measures.
const minBodyLen = 50

// ModelExtractor is the optional structured-output path. Nil means
// heuristics only.
type ModelExtractor interface {
	Extract(ctx context.Context, body string, received time.Time) ([]Candidate, error)
}

// Extractor finds promises and requests in communications and keeps
// commitment lifecycles current. Each communication is processed at most
// once; the extracted_at stamp is set even when nothing was found.
type Extractor struct {
	store  *store.Store
	model  ModelExtractor
	logger *zap.Logger
}

// New builds the extractor. model may be nil.
func New(st *store.Store, model ModelExtractor, logger *zap.Logger) *Extractor {
	return &Extractor{
		store:  st,
		model:  model,
		logger: logging.OrNop(logger).Named("commitments"),
	}
}

// ExtractPending processes unextracted communications, then advances
// commitment lifecycles against today's date.
func (e *Extractor) ExtractPending(ctx context.Context, today time.Time) error {
	comms, err := e.store.ListCommunications(ctx, store.CommFilter{
		Unextracted: true,
		Limit:       maxPerRun,
	})
	if err != nil {
		return err
	}

	extracted := 0
	for _, comm := range comms {
		n, err := e.extractOne(ctx, comm, today)
		if err != nil {
			return err
		}
		extracted += n
	}
	if extracted > 0 {
		e.logger.Info("commitments extracted",
			zap.Int("count", extracted), zap.Int("communications", len(comms)))
	}

	return e.sweep(ctx, today)
}

func (e *Extractor) extractOne(ctx context.Context, comm *domain.Communication, today time.Time) (int, error) {
	candidates := e.candidates(ctx, comm)

	inserted := 0
	for _, cand := range candidates {
		err := e.store.InsertCommitment(ctx, &domain.Commitment{
			ID:              uuid.NewString(),
			CommunicationID: comm.ID,
			ClientID:        comm.ClientID,
			Kind:            cand.Kind,
			Description:     cand.Description,
			DueDate:         cand.DueDate,
			Status:          domain.CommitmentOpen,
		}, today)
		if err != nil {
			return inserted, err
		}
		inserted++
	}

	// Stamp even when nothing was found so the body is never rescanned.
	if err := e.store.MarkExtracted(ctx, comm.ID, today); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (e *Extractor) candidates(ctx context.Context, comm *domain.Communication) []Candidate {
	if len(comm.BodyText) < minBodyLen {
		return nil
	}
	if e.model != nil {
		candidates, err := e.model.Extract(ctx, comm.BodyText, comm.ReceivedAt)
		if err == nil {
			return candidates
		}
		e.logger.Warn("model extraction failed, using heuristics",
			zap.String("communication_id", comm.ID), zap.Error(err))
	}
	return HeuristicExtract(comm.BodyText, comm.ReceivedAt)
}

// sweep advances open commitments: fulfilled when the matched task is
// done, broken when the due date passed unfulfilled, expired when an
// undated commitment sat open for a month.
func (e *Extractor) sweep(ctx context.Context, today time.Time) error {
	open, err := e.store.ListCommitments(ctx, store.CommitmentFilter{Status: domain.CommitmentOpen})
	if err != nil {
		return err
	}
	day := today.UTC().Truncate(24 * time.Hour)

	for _, c := range open {
		next := e.nextStatus(ctx, c, day)
		if next == domain.CommitmentOpen {
			continue
		}
		if err := e.store.SetCommitmentStatus(ctx, c.ID, next, today); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) nextStatus(ctx context.Context, c *domain.Commitment, day time.Time) domain.CommitmentStatus {
	if task := e.matchedTask(ctx, c); task != nil && task.Status == domain.TaskDone {
		return domain.CommitmentFulfilled
	}
	if c.DueDate != nil {
		if c.DueDate.Before(day) {
			return domain.CommitmentBroken
		}
		return domain.CommitmentOpen
	}
	if day.Sub(c.CreatedAt.UTC().Truncate(24*time.Hour)) >= expireAfterDays*24*time.Hour {
		return domain.CommitmentExpired
	}
	return domain.CommitmentOpen
}

// matchedTask finds the task a commitment is about: the explicit link
// when present, else a title match on the description.
func (e *Extractor) matchedTask(ctx context.Context, c *domain.Commitment) *domain.Task {
	if c.TaskID != "" {
		task, err := e.store.GetTask(ctx, c.TaskID)
		if err == nil {
			return task
		}
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("commitment task lookup failed",
				zap.String("commitment_id", c.ID), zap.Error(err))
		}
		return nil
	}
	task, err := e.store.FindDoneTaskByTitle(ctx, c.Description)
	if err != nil {
		return nil
	}
	return task
}
