package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"followup/internal/checkpoint/models"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
	txcontext "followup/pkg/platform/tx"
)

const dateLayout = "2006-01-02"

// PostgresStore persists checkpoints in the checkpoint table created by the
// candidate migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) conn(ctx context.Context) execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Upsert(ctx context.Context, cp *models.Checkpoint) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO checkpoint (case_reference_id, person_identifier, checkpoint_date, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5)
		ON CONFLICT (case_reference_id) DO UPDATE
		SET person_identifier = EXCLUDED.person_identifier,
			checkpoint_date = EXCLUDED.checkpoint_date,
			updated_at = EXCLUDED.updated_at
		WHERE checkpoint.processed_at IS NULL
	`, cp.CaseReferenceID, cp.PersonIdentifier.String(), cp.CheckpointDate.Format(dateLayout),
		cp.CreatedAt.UTC(), cp.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Cancel(ctx context.Context, caseReferenceID string) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM checkpoint
		WHERE case_reference_id = $1 AND processed_at IS NULL
	`, caseReferenceID)
	if err != nil {
		return false, fmt.Errorf("cancel checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Find(ctx context.Context, caseReferenceID string) (*models.Checkpoint, error) {
	cps, err := s.query(ctx, `
		SELECT case_reference_id, person_identifier, checkpoint_date, created_at, updated_at, processed_at, candidate_id
		FROM checkpoint
		WHERE case_reference_id = $1
	`, caseReferenceID)
	if err != nil || len(cps) == 0 {
		return nil, err
	}
	return cps[0], nil
}

func (s *PostgresStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, `
		SELECT case_reference_id, person_identifier, checkpoint_date, created_at, updated_at, processed_at, candidate_id
		FROM checkpoint
		WHERE processed_at IS NULL AND checkpoint_date <= $1::date
		ORDER BY checkpoint_date ASC, case_reference_id ASC
		LIMIT $2
	`, now.UTC().Format(dateLayout), limit)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, caseReferenceID string, candidateID id.CandidateID, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE checkpoint
		SET processed_at = $2, candidate_id = $3, updated_at = $2
		WHERE case_reference_id = $1 AND processed_at IS NULL
	`, caseReferenceID, at.UTC(), uuid.UUID(candidateID))
	if err != nil {
		return fmt.Errorf("mark checkpoint processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: checkpoint %s not pending", sentinel.ErrConcurrentModification, caseReferenceID)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Checkpoint, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var (
			cp          models.Checkpoint
			person      string
			processedAt sql.NullTime
			candidateID uuid.NullUUID
		)
		if err := rows.Scan(&cp.CaseReferenceID, &person, &cp.CheckpointDate,
			&cp.CreatedAt, &cp.UpdatedAt, &processedAt, &candidateID); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.PersonIdentifier = id.PersonIdentifier(strings.TrimSpace(person))
		y, m, d := cp.CheckpointDate.Date()
		cp.CheckpointDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		cp.CreatedAt = cp.CreatedAt.UTC()
		cp.UpdatedAt = cp.UpdatedAt.UTC()
		if processedAt.Valid {
			t := processedAt.Time.UTC()
			cp.ProcessedAt = &t
		}
		if candidateID.Valid {
			cid := id.CandidateID(candidateID.UUID)
			cp.CandidateID = &cid
		}
		out = append(out, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}
