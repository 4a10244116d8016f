package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fitclub_comms/internal/domain/communication"

	"github.com/lib/pq" // For pq.Array
)

type PostgresCommunicationRepository struct {
	db *sql.DB
}

func NewPostgresCommunicationRepository(db *sql.DB) *PostgresCommunicationRepository {
	return &PostgresCommunicationRepository{db: db}
}

const communicationColumns = `id, org_id, title, body, type, status, recipient_filter, scheduled_at, metadata, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommunication(row rowScanner) (*communication.Communication, error) {
	var (
		c           communication.Communication
		rawFilter   []byte
		scheduledAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.OrgID, &c.Title, &c.Body, &c.Type, &c.Status, &rawFilter, &scheduledAt, &c.Metadata, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f, err := communication.ParseFilter(rawFilter)
	if err != nil {
		return nil, fmt.Errorf("stored filter of communication %s: %w", c.ID, err)
	}
	c.RecipientFilter = f
	if scheduledAt.Valid {
		t := scheduledAt.Time
		c.ScheduledAt = &t
	}
	if c.Metadata == nil {
		c.Metadata = communication.Metadata{}
	}
	return &c, nil
}

func statusStrings(ss []communication.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (r *PostgresCommunicationRepository) Create(ctx context.Context, c *communication.Communication) error {
	rawFilter, err := communication.MarshalFilter(c.RecipientFilter)
	if err != nil {
		return err
	}
	if c.Metadata == nil {
		c.Metadata = communication.Metadata{}
	}
	query := `INSERT INTO communications (id, org_id, title, body, type, status, recipient_filter, scheduled_at, metadata, created_by)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		c.ID, c.OrgID, c.Title, c.Body, c.Type, c.Status, string(rawFilter), c.ScheduledAt, c.Metadata, c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating communication: %w", err)
	}
	return nil
}

func (r *PostgresCommunicationRepository) GetByID(ctx context.Context, id string) (*communication.Communication, error) {
	query := `SELECT ` + communicationColumns + ` FROM communications WHERE id = $1`
	c, err := scanCommunication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, communication.ErrNotFound
		}
		return nil, fmt.Errorf("error getting communication by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresCommunicationRepository) UpdateDraft(ctx context.Context, c *communication.Communication) error {
	rawFilter, err := communication.MarshalFilter(c.RecipientFilter)
	if err != nil {
		return err
	}
	query := `UPDATE communications
               SET title = $2, body = $3, type = $4, recipient_filter = $5, updated_at = NOW()
               WHERE id = $1 AND status = 'draft'
               RETURNING updated_at`
	err = r.db.QueryRowContext(ctx, query, c.ID, c.Title, c.Body, c.Type, string(rawFilter)).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.missingOrConflict(ctx, c.ID)
		}
		return fmt.Errorf("error updating communication draft: %w", err)
	}
	return nil
}

// missingOrConflict tells a vanished row apart from one whose status moved on.
func (r *PostgresCommunicationRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM communications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("error checking communication existence: %w", err)
	}
	if !exists {
		return communication.ErrNotFound
	}
	return communication.ErrStatusConflict
}

func (r *PostgresCommunicationRepository) TransitionStatus(ctx context.Context, id string, from []communication.Status, to communication.Status, patch communication.Metadata) (bool, error) {
	query := `UPDATE communications
               SET status = $2, metadata = metadata || COALESCE($3::jsonb, '{}'::jsonb), updated_at = NOW()
               WHERE id = $1 AND status = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, id, to, patch, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("error transitioning communication %s to %s: %w", id, to, err)
	}
	return affected(res)
}

func (r *PostgresCommunicationRepository) SetSchedule(ctx context.Context, id string, from, to communication.Status, at *time.Time) (bool, error) {
	query := `UPDATE communications
               SET status = $2, scheduled_at = $3, updated_at = NOW()
               WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, to, at, from)
	if err != nil {
		return false, fmt.Errorf("error scheduling communication %s: %w", id, err)
	}
	return affected(res)
}

func (r *PostgresCommunicationRepository) PatchMetadata(ctx context.Context, id string, status communication.Status, patch communication.Metadata) (bool, error) {
	query := `UPDATE communications
               SET metadata = metadata || COALESCE($3::jsonb, '{}'::jsonb)
               WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, status, patch)
	if err != nil {
		return false, fmt.Errorf("error patching communication metadata: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresCommunicationRepository) List(ctx context.Context, q communication.ListQuery) ([]*communication.Communication, int, error) {
	where := `WHERE org_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR type = $3)`

	var total int
	countQuery := `SELECT COUNT(*) FROM communications ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, q.OrgID, string(q.Status), string(q.Type)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting communications: %w", err)
	}

	query := `SELECT ` + communicationColumns + ` FROM communications ` + where + `
               ORDER BY created_at DESC, id
               LIMIT $4 OFFSET $5`
	rows, err := r.db.QueryContext(ctx, query, q.OrgID, string(q.Status), string(q.Type), q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing communications: %w", err)
	}
	defer rows.Close()

	list, err := collectCommunications(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *PostgresCommunicationRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*communication.Communication, error) {
	query := `SELECT ` + communicationColumns + ` FROM communications
               WHERE status = 'scheduled' AND scheduled_at <= $1
               ORDER BY scheduled_at, id
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing due communications: %w", err)
	}
	defer rows.Close()
	return collectCommunications(rows)
}

func (r *PostgresCommunicationRepository) ListStuck(ctx context.Context, staleBefore time.Time, id string) ([]*communication.Communication, error) {
	query := `SELECT ` + communicationColumns + ` FROM communications
               WHERE status = 'sending' AND updated_at < $1 AND ($2 = '' OR id = $2)
               ORDER BY updated_at, id`
	rows, err := r.db.QueryContext(ctx, query, staleBefore, id)
	if err != nil {
		return nil, fmt.Errorf("error listing stuck communications: %w", err)
	}
	defer rows.Close()
	return collectCommunications(rows)
}

func collectCommunications(rows *sql.Rows) ([]*communication.Communication, error) {
	var list []*communication.Communication
	for rows.Next() {
		c, err := scanCommunication(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning communication row: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating communication rows: %w", err)
	}
	return list, nil
}

// --- DeliveryAttempt Methods ---

func (r *PostgresCommunicationRepository) AppendAttempts(ctx context.Context, attempts []communication.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for attempts: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO delivery_attempts (id, communication_id, user_id, channel, status, provider_message_id, error, attempted_at)
                                         VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		_, err := stmt.ExecContext(ctx, a.ID, a.CommunicationID, a.UserID, a.Channel, a.Status, a.ProviderMessageID, a.Error, a.AttemptedAt)
		if err != nil {
			return fmt.Errorf("error inserting attempt for user %s: %w", a.UserID, err)
		}
	}

	return txn.Commit()
}

func (r *PostgresCommunicationRepository) ListAttempts(ctx context.Context, communicationID string) ([]communication.DeliveryAttempt, error) {
	query := `SELECT id, communication_id, user_id, channel, status, COALESCE(provider_message_id, ''), COALESCE(error, ''), attempted_at
               FROM delivery_attempts
               WHERE communication_id = $1
               ORDER BY attempted_at, user_id, id`
	rows, err := r.db.QueryContext(ctx, query, communicationID)
	if err != nil {
		return nil, fmt.Errorf("error listing delivery attempts: %w", err)
	}
	defer rows.Close()

	var list []communication.DeliveryAttempt
	for rows.Next() {
		var a communication.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.CommunicationID, &a.UserID, &a.Channel, &a.Status, &a.ProviderMessageID, &a.Error, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("error scanning delivery attempt: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery attempts: %w", err)
	}
	return list, nil
}

func (r *PostgresCommunicationRepository) SummarizeAttempts(ctx context.Context, communicationID string) (communication.AttemptSummary, error) {
	query := `SELECT COUNT(*),
                     COUNT(*) FILTER (WHERE status = 'sent'),
                     COUNT(*) FILTER (WHERE status = 'failed'),
                     COUNT(*) FILTER (WHERE status = 'bounced')
               FROM delivery_attempts
               WHERE communication_id = $1`
	var s communication.AttemptSummary
	if err := r.db.QueryRowContext(ctx, query, communicationID).Scan(&s.Total, &s.Sent, &s.Failed, &s.Bounced); err != nil {
		return s, fmt.Errorf("error summarizing delivery attempts: %w", err)
	}
	return s, nil
}
