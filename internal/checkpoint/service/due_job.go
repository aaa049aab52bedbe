package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	candidatemodels "followup/internal/candidate/models"
	"followup/internal/checkpoint/models"
	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
	"followup/pkg/platform/tx"
	"followup/pkg/requestcontext"
)

// CandidateCreator creates candidates. Satisfied by the candidate service.
type CandidateCreator interface {
	Create(ctx context.Context, personIdentifier string, source candidatemodels.Source, opts ...candidatemodels.Option) (*candidatemodels.Candidate, error)
}

const defaultDueBatch = 100

// checkpointNamespace seeds the name-based candidate ids derived from case
// references.
var checkpointNamespace = uuid.MustParse("6f1c2a7e-3b4d-4e8a-9c5f-2d7b1e0a9c43")

// CandidateIDFor is the id of the candidate created from a case's checkpoint.
// It is stable, so a retried conversion finds the candidate an earlier
// attempt created instead of creating a second one.
func CandidateIDFor(caseReferenceID string) id.CandidateID {
	return id.CandidateID(uuid.NewSHA1(checkpointNamespace, []byte(caseReferenceID)))
}

// DueJob turns due checkpoints into candidates. It runs on the leader only.
type DueJob struct {
	store      Store
	candidates CandidateCreator
	tx         tx.Runner
	batchSize  int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type DueJobOption func(*DueJob)

func WithBatchSize(n int) DueJobOption {
	return func(j *DueJob) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

func WithJobLogger(logger *slog.Logger) DueJobOption {
	return func(j *DueJob) {
		j.logger = logger
	}
}

func WithJobMetrics(m *metrics.Metrics) DueJobOption {
	return func(j *DueJob) {
		j.metrics = m
	}
}

func NewDueJob(store Store, candidates CandidateCreator, runner tx.Runner, opts ...DueJobOption) *DueJob {
	j := &DueJob{store: store, candidates: candidates, tx: runner, batchSize: defaultDueBatch}
	for _, opt := range opts {
		opt(j)
	}
	if j.tx == nil {
		j.tx = tx.NoopRunner{}
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// Run processes one batch of due checkpoints. Each checkpoint is converted in
// its own transaction; a failure is logged and the rest of the batch proceeds.
func (j *DueJob) Run(ctx context.Context) error {
	now := requestcontext.Now(ctx)
	ctx = requestcontext.WithTime(ctx, now)

	due, err := j.store.FindDue(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("find due checkpoints: %w", err)
	}

	failed := 0
	for _, cp := range due {
		if err := j.process(ctx, cp); err != nil {
			failed++
			j.logger.ErrorContext(ctx, "failed to process checkpoint",
				slog.String("case_reference_id", cp.CaseReferenceID),
				"error", err,
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d due checkpoints failed", failed, len(due))
	}
	return nil
}

func (j *DueJob) process(ctx context.Context, cp *models.Checkpoint) error {
	return j.tx.RunInTx(ctx, func(ctx context.Context) error {
		candidateID := CandidateIDFor(cp.CaseReferenceID)
		_, err := j.candidates.Create(ctx, cp.PersonIdentifier.String(), candidatemodels.SourceCheckpoint,
			candidatemodels.WithID(candidateID))
		switch {
		case err == nil:
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			// An earlier attempt created the candidate but failed to mark the
			// checkpoint.
			j.logger.WarnContext(ctx, "candidate for checkpoint already exists",
				slog.String("case_reference_id", cp.CaseReferenceID),
				attrs.Candidate(candidateID),
			)
		default:
			return fmt.Errorf("create candidate: %w", err)
		}
		if err := j.store.MarkProcessed(ctx, cp.CaseReferenceID, candidateID, requestcontext.Now(ctx)); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		j.metrics.IncCheckpointProcessed()
		j.logger.InfoContext(ctx, "checkpoint processed",
			slog.String("case_reference_id", cp.CaseReferenceID),
			attrs.Candidate(candidateID),
		)
		return nil
	})
}
