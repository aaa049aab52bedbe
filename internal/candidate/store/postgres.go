package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"followup/internal/candidate/models"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
	txcontext "followup/pkg/platform/tx"
	"followup/pkg/requestcontext"
)

const uniqueViolation = "23505"

// PostgresStore persists candidates in PostgreSQL. When the context carries a
// transaction (pkg/platform/tx) every statement runs on it; otherwise
// multi-statement operations open their own transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed candidate store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(q queryer) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candidate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candidate tx: %w", err)
	}
	return nil
}

// Create inserts the candidate and its initial history.
// A taken notification reference yields sentinel.ErrAlreadyUsed.
func (s *PostgresStore) Create(ctx context.Context, c *models.Candidate) error {
	return s.inTx(ctx, func(q queryer) error {
		var wants sql.NullString
		var answeredAt sql.NullTime
		if c.Answer != nil {
			wants = sql.NullString{String: string(c.Answer.WantsFollowUp), Valid: true}
			answeredAt = sql.NullTime{Time: c.Answer.AnsweredAt, Valid: true}
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO candidate (
				id, person_identifier, created_at, updated_at,
				notification_reference, notified_at, answered_at, wants_follow_up,
				published_at, version
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			uuid.UUID(c.ID),
			c.PersonIdentifier.String(),
			c.CreatedAt,
			c.UpdatedAt,
			nullString(c.NotificationReference),
			nullTime(c.NotifiedAt),
			answeredAt,
			wants,
			nullTime(c.PublishedAt),
			c.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert candidate: %w", err)
		}
		for seq, change := range c.StatusHistory {
			if err := insertStatusChange(ctx, q, c.ID, seq, change); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendStatusChange persists the candidate's answer fields and the new
// change. The candidate row update is guarded by Version and must affect
// exactly one row.
func (s *PostgresStore) AppendStatusChange(ctx context.Context, c *models.Candidate, change models.StatusChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(q queryer) error {
		var wants sql.NullString
		var answeredAt sql.NullTime
		if c.Answer != nil {
			wants = sql.NullString{String: string(c.Answer.WantsFollowUp), Valid: true}
			answeredAt = sql.NullTime{Time: c.Answer.AnsweredAt, Valid: true}
		}
		res, err := q.ExecContext(ctx, `
			UPDATE candidate
			SET answered_at = $3, wants_follow_up = $4, updated_at = $5, version = version + 1
			WHERE id = $1 AND version = $2
		`, uuid.UUID(c.ID), c.Version, answeredAt, wants, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update candidate: %w", err)
		}
		if err := expectRows(res, 1); err != nil {
			return err
		}

		var seq int
		if err := q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM candidate_status_change WHERE candidate_id = $1`,
			uuid.UUID(c.ID),
		).Scan(&seq); err != nil {
			return fmt.Errorf("next status seq: %w", err)
		}
		if err := insertStatusChange(ctx, q, c.ID, seq, change); err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConcurrentModification
			}
			return err
		}
		c.Version++
		return nil
	})
}

func insertStatusChange(ctx context.Context, q queryer, candidateID id.CandidateID, seq int, change models.StatusChange) error {
	var (
		answeredAt, assessedAt        sql.NullTime
		wants, caseworker, archiveRef sql.NullString
		rationale                     sql.NullString
	)
	switch change.Kind {
	case models.StatusCandidate:
	case models.StatusAnswerReceived:
		answeredAt = sql.NullTime{Time: change.AnswerReceived.AnsweredAt, Valid: true}
		wants = sql.NullString{String: string(change.AnswerReceived.WantsFollowUp), Valid: true}
	case models.StatusAssessed:
		assessedAt = sql.NullTime{Time: change.Assessed.AssessedAt, Valid: true}
		caseworker = sql.NullString{String: change.Assessed.CaseworkerID, Valid: true}
		rationale = nullString(change.Assessed.Rationale)
		archiveRef = sql.NullString{String: change.Assessed.ArchiveReference, Valid: change.Assessed.ArchiveReference != ""}
	default:
		return fmt.Errorf("insert status change: unknown kind %q", change.Kind)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO candidate_status_change (
			id, candidate_id, seq, kind, created_at, published_at,
			answered_at, wants_follow_up, assessed_at, caseworker_id, rationale, archive_reference
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(change.ID),
		uuid.UUID(candidateID),
		seq,
		string(change.Kind),
		change.CreatedAt,
		nullTime(change.PublishedAt),
		answeredAt,
		wants,
		assessedAt,
		caseworker,
		rationale,
		archiveRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

const candidateColumns = `
	id, person_identifier, created_at, updated_at,
	notification_reference, notified_at, answered_at, wants_follow_up,
	published_at, version
`

func (s *PostgresStore) FindByID(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error) {
	return s.findOne(ctx, `SELECT `+candidateColumns+` FROM candidate WHERE id = $1`, uuid.UUID(candidateID))
}

func (s *PostgresStore) FindByNotificationReference(ctx context.Context, reference string) (*models.Candidate, error) {
	return s.findOne(ctx, `SELECT `+candidateColumns+` FROM candidate WHERE notification_reference = $1`, reference)
}

func (s *PostgresStore) FindRecentByPerson(ctx context.Context, person id.PersonIdentifier, since time.Time) ([]*models.Candidate, error) {
	return s.findMany(ctx, `
		SELECT `+candidateColumns+`
		FROM candidate
		WHERE person_identifier = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, person.String(), since)
}

func (s *PostgresStore) FindByPersonIdentifiers(ctx context.Context, persons []id.PersonIdentifier) ([]*models.Candidate, error) {
	if len(persons) == 0 {
		return nil, nil
	}
	values := make([]string, len(persons))
	for i, p := range persons {
		values[i] = p.String()
	}
	return s.findMany(ctx, `
		SELECT `+candidateColumns+`
		FROM candidate
		WHERE person_identifier = ANY($1)
		ORDER BY created_at ASC
	`, pq.Array(values))
}

// FindUnpublished returns unpublished candidates that are ready to send: any
// candidate past its initial status, and initial ones whose grace reference
// (notified_at, else created_at) is at or before readyBefore. Filtering
// before the limit keeps held-back candidates from filling the batch.
func (s *PostgresStore) FindUnpublished(ctx context.Context, readyBefore time.Time, limit int) ([]*models.Candidate, error) {
	return s.findMany(ctx, `
		SELECT `+candidateColumns+`
		FROM candidate c
		WHERE c.published_at IS NULL
		  AND (
			COALESCE(c.notified_at, c.created_at) <= $1
			OR EXISTS (
				SELECT 1 FROM candidate_status_change sc
				WHERE sc.candidate_id = c.id AND sc.kind <> 'CANDIDATE'
			)
		  )
		ORDER BY c.created_at ASC
		LIMIT $2
	`, readyBefore, limit)
}

// FindUnpublishedStatusChanges returns changes of already published
// candidates. Changes of unpublished candidates go out with the candidate.
func (s *PostgresStore) FindUnpublishedStatusChanges(ctx context.Context, limit int) ([]UnpublishedChange, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT sc.id, sc.candidate_id
		FROM candidate_status_change sc
		JOIN candidate c ON c.id = sc.candidate_id
		WHERE sc.published_at IS NULL AND c.published_at IS NOT NULL
		ORDER BY sc.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished status changes: %w", err)
	}
	type ref struct {
		changeID    uuid.UUID
		candidateID uuid.UUID
	}
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.changeID, &r.candidateID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan unpublished status change: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate unpublished status changes: %w", err)
	}
	rows.Close()

	loaded := make(map[uuid.UUID]*models.Candidate)
	out := make([]UnpublishedChange, 0, len(refs))
	for _, r := range refs {
		c, ok := loaded[r.candidateID]
		if !ok {
			c, err = s.FindByID(ctx, id.CandidateID(r.candidateID))
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			loaded[r.candidateID] = c
		}
		for _, change := range c.StatusHistory {
			if uuid.UUID(change.ID) == r.changeID {
				out = append(out, UnpublishedChange{Candidate: c, Change: change})
				break
			}
		}
	}
	return out, nil
}

// MarkPublished sets published_at on the candidate and on the listed status
// changes, those that went out in the candidate message. Changes appended
// after the message was built stay unpublished.
func (s *PostgresStore) MarkPublished(ctx context.Context, candidateID id.CandidateID, changeIDs []id.StatusChangeID, at time.Time) error {
	ids := make([]string, len(changeIDs))
	for i, changeID := range changeIDs {
		ids[i] = changeID.String()
	}
	return s.inTx(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx,
			`UPDATE candidate SET published_at = $2 WHERE id = $1 AND published_at IS NULL`,
			uuid.UUID(candidateID), at)
		if err != nil {
			return fmt.Errorf("mark candidate published: %w", err)
		}
		if err := expectRows(res, 1); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := q.ExecContext(ctx, `
			UPDATE candidate_status_change SET published_at = $2
			WHERE candidate_id = $1 AND id = ANY($3::uuid[]) AND published_at IS NULL
		`, uuid.UUID(candidateID), at, pq.Array(ids)); err != nil {
			return fmt.Errorf("mark candidate status changes published: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) MarkStatusChangePublished(ctx context.Context, changeID id.StatusChangeID, at time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE candidate_status_change SET published_at = $2 WHERE id = $1 AND published_at IS NULL`,
		uuid.UUID(changeID), at)
	if err != nil {
		return fmt.Errorf("mark status change published: %w", err)
	}
	return expectRows(res, 1)
}

// RewritePersonIdentifier moves the given candidates to a new identifier in
// one statement. The update must touch every listed candidate.
func (s *PostgresStore) RewritePersonIdentifier(ctx context.Context, candidateIDs []id.CandidateID, to id.PersonIdentifier) (int, error) {
	if len(candidateIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(candidateIDs))
	for i, cid := range candidateIDs {
		ids[i] = cid.String()
	}
	var n int
	err := s.inTx(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx, `
			UPDATE candidate
			SET person_identifier = $2, updated_at = $3, version = version + 1
			WHERE id = ANY($1::uuid[])
		`, pq.Array(ids), to.String(), requestcontext.Now(ctx).UTC())
		if err != nil {
			return fmt.Errorf("rewrite person identifier: %w", err)
		}
		if err := expectRows(res, int64(len(ids))); err != nil {
			return err
		}
		n = len(ids)
		return nil
	})
	return n, err
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Candidate, error) {
	cs, err := s.findMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, nil
	}
	return cs[0], nil
}

func (s *PostgresStore) findMany(ctx context.Context, query string, args ...any) ([]*models.Candidate, error) {
	q := s.q(ctx)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	var out []*models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	rows.Close()

	if len(out) == 0 {
		return nil, nil
	}
	if err := loadHistory(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanCandidate(rows *sql.Rows) (*models.Candidate, error) {
	var (
		c          models.Candidate
		candID     uuid.UUID
		person     string
		reference  sql.NullString
		notifiedAt sql.NullTime
		answeredAt sql.NullTime
		wants      sql.NullString
		published  sql.NullTime
	)
	if err := rows.Scan(
		&candID, &person, &c.CreatedAt, &c.UpdatedAt,
		&reference, &notifiedAt, &answeredAt, &wants,
		&published, &c.Version,
	); err != nil {
		return nil, fmt.Errorf("scan candidate: %w", err)
	}
	c.ID = id.CandidateID(candID)
	c.PersonIdentifier = id.PersonIdentifier(strings.TrimSpace(person))
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if reference.Valid {
		ref := reference.String
		c.NotificationReference = &ref
	}
	c.NotifiedAt = timePtr(notifiedAt)
	c.PublishedAt = timePtr(published)
	if answeredAt.Valid && wants.Valid {
		c.Answer = &models.Answer{
			AnsweredAt:    answeredAt.Time.UTC(),
			WantsFollowUp: id.WantsFollowUp(wants.String),
		}
	}
	return &c, nil
}

func loadHistory(ctx context.Context, q queryer, cs []*models.Candidate) error {
	byID := make(map[uuid.UUID]*models.Candidate, len(cs))
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		byID[uuid.UUID(c.ID)] = c
		ids = append(ids, c.ID.String())
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, candidate_id, kind, created_at, published_at,
			answered_at, wants_follow_up, assessed_at, caseworker_id, rationale, archive_reference
		FROM candidate_status_change
		WHERE candidate_id = ANY($1::uuid[])
		ORDER BY candidate_id, seq ASC
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			changeID, candID       uuid.UUID
			kind                   string
			change                 models.StatusChange
			published              sql.NullTime
			answeredAt, assessedAt sql.NullTime
			wants, caseworker      sql.NullString
			rationale, archiveRef  sql.NullString
		)
		if err := rows.Scan(
			&changeID, &candID, &kind, &change.CreatedAt, &published,
			&answeredAt, &wants, &assessedAt, &caseworker, &rationale, &archiveRef,
		); err != nil {
			return fmt.Errorf("scan status change: %w", err)
		}
		k, err := models.ParseStatusKind(kind)
		if err != nil {
			return fmt.Errorf("scan status change %s: %w", changeID, err)
		}
		change.ID = id.StatusChangeID(changeID)
		change.Kind = k
		change.CreatedAt = change.CreatedAt.UTC()
		change.PublishedAt = timePtr(published)
		switch k {
		case models.StatusCandidate:
		case models.StatusAnswerReceived:
			change.AnswerReceived = &models.AnswerReceivedPayload{
				AnsweredAt:    answeredAt.Time.UTC(),
				WantsFollowUp: id.WantsFollowUp(wants.String),
			}
		case models.StatusAssessed:
			change.Assessed = &models.AssessedPayload{
				AssessedAt:       assessedAt.Time.UTC(),
				CaseworkerID:     caseworker.String,
				ArchiveReference: archiveRef.String,
			}
			if rationale.Valid {
				r := rationale.String
				change.Assessed.Rationale = &r
			}
		}
		if c, ok := byID[candID]; ok {
			c.StatusHistory = append(c.StatusHistory, change)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate status history: %w", err)
	}
	return nil
}

func expectRows(res sql.Result, want int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != want {
		return fmt.Errorf("%w: expected %d row(s), affected %d", sentinel.ErrConcurrentModification, want, n)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
