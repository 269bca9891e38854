package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
	"estimate_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadColumns = `id::text, answers, estimate, identity, details, created_at, estimated_at, linked_at, details_at`

// PostgresStore persists leads in the leads table. Each mutation is one UPDATE ... RETURNING.
type PostgresStore struct {
	pool db.Pool
}

func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, answers questionflow.AnswerSet, estimate *pricing.Estimate) (Lead, error) {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: encode answers: %w", err)
	}
	var estimateJSON []byte
	var estimatedAt *time.Time
	now := time.Now().UTC()
	if estimate != nil {
		if estimateJSON, err = json.Marshal(estimate); err != nil {
			return Lead{}, fmt.Errorf("create lead: encode estimate: %w", err)
		}
		estimatedAt = &now
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads (id, answers, estimate, created_at, estimated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+leadColumns,
		uuid.NewString(), answersJSON, estimateJSON, now, estimatedAt)
	lead, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return lead, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Lead{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (s *PostgresStore) AttachEstimate(ctx context.Context, id string, estimate pricing.Estimate) (Lead, error) {
	estimateJSON, err := json.Marshal(estimate)
	if err != nil {
		return Lead{}, fmt.Errorf("attach estimate: encode: %w", err)
	}
	return s.updateRow(ctx, "attach estimate", id, `
		UPDATE leads SET estimate = $2, estimated_at = $3
		WHERE id = $1
		RETURNING `+leadColumns,
		estimateJSON, time.Now().UTC())
}

func (s *PostgresStore) AttachIdentity(ctx context.Context, id string, identity string) (Lead, error) {
	return s.updateRow(ctx, "attach identity", id, `
		UPDATE leads SET identity = $2, linked_at = $3
		WHERE id = $1
		RETURNING `+leadColumns,
		identity, time.Now().UTC())
}

// AttachDetails merges scalar fields with jsonb || and appends photos to the stored array.
func (s *PostgresStore) AttachDetails(ctx context.Context, id string, details Details) (Lead, error) {
	photos := details.Photos
	if photos == nil {
		photos = []PhotoRef{}
	}
	details.Photos = nil
	fieldsJSON, err := json.Marshal(details)
	if err != nil {
		return Lead{}, fmt.Errorf("attach details: encode: %w", err)
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return Lead{}, fmt.Errorf("attach details: encode photos: %w", err)
	}

	return s.updateRow(ctx, "attach details", id, `
		UPDATE leads SET
			details = COALESCE(details, '{}'::jsonb) || $2::jsonb
				|| jsonb_build_object('photos', COALESCE(details->'photos', '[]'::jsonb) || $3::jsonb),
			details_at = $4
		WHERE id = $1
		RETURNING `+leadColumns,
		fieldsJSON, photosJSON, time.Now().UTC())
}

func (s *PostgresStore) updateRow(ctx context.Context, op, id, query string, args ...any) (Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Lead{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, query, append([]any{id}, args...)...)
	lead, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("%s: %w", op, err)
	}
	return lead, nil
}

func scanLead(row pgx.Row) (Lead, error) {
	var (
		lead         Lead
		answersJSON  []byte
		estimateJSON []byte
		detailsJSON  []byte
		identity     *string
	)
	err := row.Scan(&lead.ID, &answersJSON, &estimateJSON, &identity, &detailsJSON,
		&lead.CreatedAt, &lead.EstimatedAt, &lead.LinkedAt, &lead.DetailsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}

	if err := json.Unmarshal(answersJSON, &lead.Answers); err != nil {
		return Lead{}, fmt.Errorf("decode answers: %w", err)
	}
	if lead.Answers == nil {
		lead.Answers = questionflow.AnswerSet{}
	}
	if len(estimateJSON) > 0 {
		var est pricing.Estimate
		if err := json.Unmarshal(estimateJSON, &est); err != nil {
			return Lead{}, fmt.Errorf("decode estimate: %w", err)
		}
		lead.Estimate = &est
	}
	if len(detailsJSON) > 0 {
		var d Details
		if err := json.Unmarshal(detailsJSON, &d); err != nil {
			return Lead{}, fmt.Errorf("decode details: %w", err)
		}
		lead.Details = &d
	}
	if identity != nil {
		lead.Identity = *identity
	}
	return lead, nil
}

var _ LeadStore = (*PostgresStore)(nil)
