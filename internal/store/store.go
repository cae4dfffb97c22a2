// Package store is the durable store adapter (C2): a thin, explicit
// Postgres layer over database/sql and lib/pq. No ORM — every access path
// is a named method with its own SQL, matching how the rest of the
// pipeline expects jobs, projects and principals to be read and written.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/models"
)

// Store wraps a *sql.DB with the query surface the pipeline needs. It
// implements vault.AttemptStore directly so the same handle backs both
// generation jobs and PIN brute-force tracking.
type Store struct {
	DB *sql.DB
}

var _ vault.AttemptStore = (*Store)(nil)

// New wraps an already-opened database handle.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// ---------------------------------------------------------------------
// Principals
// ---------------------------------------------------------------------

// CreatePrincipal inserts a new account and returns its generated id.
func (s *Store) CreatePrincipal(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO principals (id, email, password_hash, credentials)
VALUES ($1, $2, $3, '{}')`, id, strings.ToLower(email), passwordHash)
	if err != nil {
		return "", fmt.Errorf("store: create principal: %w", err)
	}
	return id, nil
}

// GetPrincipalByEmail fetches an account by its (case-insensitive) email.
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (models.Principal, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, email, password_hash, pin_hash, has_pin, credentials, created_at
FROM principals WHERE email = $1`, strings.ToLower(email))
	return scanPrincipal(row)
}

// GetPrincipalByID fetches an account by id.
func (s *Store) GetPrincipalByID(ctx context.Context, id string) (models.Principal, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, email, password_hash, pin_hash, has_pin, credentials, created_at
FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (models.Principal, error) {
	var (
		p        models.Principal
		credRaw  []byte
	)
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.PinHash, &p.HasPin, &credRaw, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.Principal{}, sql.ErrNoRows
		}
		return models.Principal{}, fmt.Errorf("store: scan principal: %w", err)
	}
	if len(credRaw) > 0 {
		var creds map[models.CredentialKind]models.CredentialEnvelope
		if err := json.Unmarshal(credRaw, &creds); err != nil {
			return models.Principal{}, fmt.Errorf("store: decode credentials: %w", err)
		}
		p.Credentials = creds
	}
	return p, nil
}

// SetCredential stores one provider credential envelope, replacing any
// prior value for that kind.
func (s *Store) SetCredential(ctx context.Context, principalID string, kind models.CredentialKind, env models.CredentialEnvelope) error {
	p, err := s.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Credentials == nil {
		p.Credentials = map[models.CredentialKind]models.CredentialEnvelope{}
	}
	p.Credentials[kind] = env
	raw, err := json.Marshal(p.Credentials)
	if err != nil {
		return fmt.Errorf("store: encode credentials: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE principals SET credentials = $1 WHERE id = $2`, raw, principalID)
	if err != nil {
		return fmt.Errorf("store: set credential: %w", err)
	}
	return nil
}

// SetPin sets or clears the PIN hash and has_pin flag on a principal.
func (s *Store) SetPin(ctx context.Context, principalID, pinHash string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE principals SET pin_hash = $1, has_pin = $2 WHERE id = $3`,
		pinHash, pinHash != "", principalID)
	if err != nil {
		return fmt.Errorf("store: set pin: %w", err)
	}
	return nil
}

// SetPassword replaces a principal's password hash.
func (s *Store) SetPassword(ctx context.Context, principalID, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE principals SET password_hash = $1 WHERE id = $2`, passwordHash, principalID)
	if err != nil {
		return fmt.Errorf("store: set password: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------
// PIN attempts — implements vault.AttemptStore
// ---------------------------------------------------------------------

// GetPinAttempt returns the current attempt counter and blocked state for
// one (ip, principal) pair. A missing row means zero attempts, not blocked.
func (s *Store) GetPinAttempt(ctx context.Context, ip, principalID string) (int, bool, error) {
	var attempts int
	var blocked bool
	err := s.DB.QueryRowContext(ctx, `
SELECT attempts, blocked FROM pin_attempts WHERE ip = $1 AND principal_id = $2`, ip, principalID).
		Scan(&attempts, &blocked)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get pin attempt: %w", err)
	}
	return attempts, blocked, nil
}

// IncrementPinAttempt bumps the failure counter for (ip, principal),
// tripping blocked once the count reaches vault's lockout threshold.
func (s *Store) IncrementPinAttempt(ctx context.Context, ip, principalID string) (int, bool, error) {
	var attempts int
	var blocked bool
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO pin_attempts (ip, principal_id, attempts, blocked, last_attempt)
VALUES ($1, $2, 1, FALSE, NOW())
ON CONFLICT (ip, principal_id) DO UPDATE SET
  attempts     = pin_attempts.attempts + 1,
  blocked      = (pin_attempts.attempts + 1) >= $3,
  last_attempt = NOW()
RETURNING attempts, blocked`, ip, principalID, vault.MaxPinAttempts).Scan(&attempts, &blocked)
	if err != nil {
		return 0, false, fmt.Errorf("store: increment pin attempt: %w", err)
	}
	return attempts, blocked, nil
}

// ResetPinAttempt clears the counter for (ip, principal) after a
// successful verification prior to lockout.
func (s *Store) ResetPinAttempt(ctx context.Context, ip, principalID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM pin_attempts WHERE ip = $1 AND principal_id = $2`, ip, principalID)
	if err != nil {
		return fmt.Errorf("store: reset pin attempt: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------

// CreateProject inserts a new project owned by ownerID.
func (s *Store) CreateProject(ctx context.Context, ownerID, name, description string) (models.Project, error) {
	var p models.Project
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO projects (id, owner_id, name, description)
VALUES ($1, $2, $3, $4)
RETURNING id, owner_id, name, description, created_at, updated_at`,
		uuid.NewString(), ownerID, name, description).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Project{}, fmt.Errorf("store: create project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project scoped to its owner.
func (s *Store) GetProject(ctx context.Context, ownerID, id string) (models.Project, error) {
	var p models.Project
	err := s.DB.QueryRowContext(ctx, `
SELECT id, owner_id, name, description, created_at, updated_at
FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Project{}, fmt.Errorf("store: get project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project owned by ownerID, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]models.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, owner_id, name, description, created_at, updated_at
FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject renames/redescribes a project scoped to its owner.
func (s *Store) UpdateProject(ctx context.Context, ownerID, id, name, description string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE projects SET name = $1, description = $2, updated_at = NOW()
WHERE id = $3 AND owner_id = $4`, name, description, id, ownerID)
	if err != nil {
		return fmt.Errorf("store: update project: %w", err)
	}
	return requireRowsAffected(res)
}

// DeleteProject removes a project and, via FK cascade, every job under it.
func (s *Store) DeleteProject(ctx context.Context, ownerID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	return requireRowsAffected(res)
}

// ---------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------

// CreateJob inserts a new generation job in the queued state.
func (s *Store) CreateJob(ctx context.Context, j models.Job) (models.Job, error) {
	j.ID = uuid.NewString()
	j.Status = models.StatusQueued
	if j.ExtraKeywords == nil {
		j.ExtraKeywords = []string{}
	}
	if j.LSIKeywords == nil {
		j.LSIKeywords = []string{}
	}
	if j.InternalLinks == nil {
		j.InternalLinks = []models.InternalLink{}
	}

	extraKeywords, err := json.Marshal(j.ExtraKeywords)
	if err != nil {
		return models.Job{}, fmt.Errorf("store: encode extraKeywords: %w", err)
	}
	lsi, err := json.Marshal(j.LSIKeywords)
	if err != nil {
		return models.Job{}, fmt.Errorf("store: encode lsiKeywords: %w", err)
	}
	links, err := json.Marshal(j.InternalLinks)
	if err != nil {
		return models.Job{}, fmt.Errorf("store: encode internalLinks: %w", err)
	}

	err = s.DB.QueryRowContext(ctx, `
INSERT INTO jobs (id, project_id, owner_id, main_keyword, article_type, extra_keywords,
                   language, region, lsi_keywords, style_comment, continuous, internal_links, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING created_at`, j.ID, j.ProjectID, j.OwnerID, j.MainKeyword, string(j.ArticleType), extraKeywords,
		j.Language, j.Region, lsi, j.StyleComment, j.Continuous, links, string(j.Status)).
		Scan(&j.CreatedAt)
	if err != nil {
		return models.Job{}, fmt.Errorf("store: create job: %w", err)
	}
	return j, nil
}

// GetJob fetches a job scoped to its owner.
func (s *Store) GetJob(ctx context.Context, ownerID, id string) (models.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, project_id, owner_id, main_keyword, article_type, extra_keywords, language, region,
       lsi_keywords, style_comment, continuous, internal_links, status, progress, current_step,
       log, serp_entries, structure_analysis, blocks, article, seo_title, seo_description, error,
       created_at, started_at, completed_at
FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Job{}, models.ErrJobNotFound
		}
		return models.Job{}, err
	}
	return j, nil
}

func scanJob(row *sql.Row) (models.Job, error) {
	var (
		j                                                      models.Job
		extraKeywords, lsi, links, log, serp, blocks           []byte
		structureAnalysis                                      []byte
		articleType, status                                   string
	)
	err := row.Scan(&j.ID, &j.ProjectID, &j.OwnerID, &j.MainKeyword, &articleType, &extraKeywords,
		&j.Language, &j.Region, &lsi, &j.StyleComment, &j.Continuous, &links, &status, &j.Progress,
		&j.CurrentStep, &log, &serp, &structureAnalysis, &blocks, &j.Article, &j.SEOTitle,
		&j.SEODescription, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return models.Job{}, err
	}
	j.ArticleType = models.ArticleType(articleType)
	j.Status = models.GenerationStatus(status)

	if err := unmarshalIfPresent(extraKeywords, &j.ExtraKeywords); err != nil {
		return models.Job{}, fmt.Errorf("store: decode extraKeywords: %w", err)
	}
	if err := unmarshalIfPresent(lsi, &j.LSIKeywords); err != nil {
		return models.Job{}, fmt.Errorf("store: decode lsiKeywords: %w", err)
	}
	if err := unmarshalIfPresent(links, &j.InternalLinks); err != nil {
		return models.Job{}, fmt.Errorf("store: decode internalLinks: %w", err)
	}
	if err := unmarshalIfPresent(log, &j.Log); err != nil {
		return models.Job{}, fmt.Errorf("store: decode log: %w", err)
	}
	if err := unmarshalIfPresent(serp, &j.SerpEntries); err != nil {
		return models.Job{}, fmt.Errorf("store: decode serpEntries: %w", err)
	}
	if err := unmarshalIfPresent(blocks, &j.Blocks); err != nil {
		return models.Job{}, fmt.Errorf("store: decode blocks: %w", err)
	}
	if len(structureAnalysis) > 0 && string(structureAnalysis) != "null" {
		var sa models.StructureAnalysis
		if err := json.Unmarshal(structureAnalysis, &sa); err != nil {
			return models.Job{}, fmt.Errorf("store: decode structureAnalysis: %w", err)
		}
		j.StructureAnalysis = &sa
	}
	return j, nil
}

func unmarshalIfPresent(raw []byte, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// ListJobsByProject returns every job under a project, newest first.
func (s *Store) ListJobsByProject(ctx context.Context, ownerID, projectID string) ([]models.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, project_id, owner_id, main_keyword, article_type, extra_keywords, language, region,
       lsi_keywords, style_comment, continuous, internal_links, status, progress, current_step,
       log, serp_entries, structure_analysis, blocks, article, seo_title, seo_description, error,
       created_at, started_at, completed_at
FROM jobs WHERE owner_id = $1 AND project_id = $2 ORDER BY created_at DESC`, ownerID, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs by project: %w", err)
	}
	return scanJobRows(rows)
}

// ListJobsByOwner returns jobs across all of an owner's projects, optionally
// filtered by status, newest first, paginated with limit/offset.
func (s *Store) ListJobsByOwner(ctx context.Context, ownerID string, status models.GenerationStatus, limit, offset int) ([]models.Job, error) {
	query := `
SELECT id, project_id, owner_id, main_keyword, article_type, extra_keywords, language, region,
       lsi_keywords, style_comment, continuous, internal_links, status, progress, current_step,
       log, serp_entries, structure_analysis, blocks, article, seo_title, seo_description, error,
       created_at, started_at, completed_at
FROM jobs WHERE owner_id = $1`
	args := []interface{}{ownerID}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs by owner: %w", err)
	}
	return scanJobRows(rows)
}

// CountJobsByStatus returns the cluster-wide number of jobs currently in
// status, for the /api/generations/queue/stats completed/failed counts.
func (s *Store) CountJobsByStatus(ctx context.Context, status models.GenerationStatus) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count jobs by status: %w", err)
	}
	return n, nil
}

func scanJobRows(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		var (
			j                                            models.Job
			extraKeywords, lsi, links, log, serp, blocks []byte
			structureAnalysis                            []byte
			articleType, status                          string
		)
		if err := rows.Scan(&j.ID, &j.ProjectID, &j.OwnerID, &j.MainKeyword, &articleType, &extraKeywords,
			&j.Language, &j.Region, &lsi, &j.StyleComment, &j.Continuous, &links, &status, &j.Progress,
			&j.CurrentStep, &log, &serp, &structureAnalysis, &blocks, &j.Article, &j.SEOTitle,
			&j.SEODescription, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan job row: %w", err)
		}
		j.ArticleType = models.ArticleType(articleType)
		j.Status = models.GenerationStatus(status)
		if err := unmarshalIfPresent(extraKeywords, &j.ExtraKeywords); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(lsi, &j.LSIKeywords); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(links, &j.InternalLinks); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(log, &j.Log); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(serp, &j.SerpEntries); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(blocks, &j.Blocks); err != nil {
			return nil, err
		}
		if len(structureAnalysis) > 0 && string(structureAnalysis) != "null" {
			var sa models.StructureAnalysis
			if err := json.Unmarshal(structureAnalysis, &sa); err != nil {
				return nil, err
			}
			j.StructureAnalysis = &sa
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// AppendJobLog appends one log entry without touching any other column, so
// concurrent writers racing on status/progress never clobber the log tail.
func (s *Store) AppendJobLog(ctx context.Context, id string, entry models.LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: encode log entry: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET log = log || $1::jsonb WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("store: append job log: %w", err)
	}
	return requireRowsAffected(res)
}

// JobFields is a sparse set of independently-writable job columns. Only
// non-nil fields are applied, so stage runners can set progress without
// clobbering status set by another writer in the same tick.
type JobFields struct {
	Status            *models.GenerationStatus
	Progress          *int
	CurrentStep       *string
	SerpEntries       *[]models.SerpEntry
	StructureAnalysis *models.StructureAnalysis
	Blocks            *[]models.Block
	Article           *string
	SEOTitle          *string
	SEODescription    *string
	Error             *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// UpdateJobFields applies a sparse set of field writes to a job in one
// statement, each backed by its own column so unrelated writers never race.
func (s *Store) UpdateJobFields(ctx context.Context, id string, f JobFields) error {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.Progress != nil {
		add("progress", *f.Progress)
	}
	if f.CurrentStep != nil {
		add("current_step", *f.CurrentStep)
	}
	if f.SerpEntries != nil {
		raw, err := json.Marshal(*f.SerpEntries)
		if err != nil {
			return fmt.Errorf("store: encode serpEntries: %w", err)
		}
		add("serp_entries", raw)
	}
	if f.StructureAnalysis != nil {
		raw, err := json.Marshal(*f.StructureAnalysis)
		if err != nil {
			return fmt.Errorf("store: encode structureAnalysis: %w", err)
		}
		add("structure_analysis", raw)
	}
	if f.Blocks != nil {
		raw, err := json.Marshal(*f.Blocks)
		if err != nil {
			return fmt.Errorf("store: encode blocks: %w", err)
		}
		add("blocks", raw)
	}
	if f.Article != nil {
		add("article", *f.Article)
	}
	if f.SEOTitle != nil {
		add("seo_title", *f.SEOTitle)
	}
	if f.SEODescription != nil {
		add("seo_description", *f.SEODescription)
	}
	if f.Error != nil {
		add("error", *f.Error)
	}
	if f.StartedAt != nil {
		add("started_at", *f.StartedAt)
	}
	if f.CompletedAt != nil {
		add("completed_at", *f.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update job fields: %w", err)
	}
	return requireRowsAffected(res)
}

// DeleteJob removes a job scoped to its owner.
func (s *Store) DeleteJob(ctx context.Context, ownerID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	return requireRowsAffected(res)
}

// ---------------------------------------------------------------------
// Idempotency
// ---------------------------------------------------------------------

// ClaimIdempotency attempts to claim (scope, key) exactly once. The bool
// reports whether the caller won the claim; redelivered queue messages see
// false and skip reprocessing.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("store: scope and key must be provided")
	}
	var claimed bool
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO idempotency_keys (scope, key) VALUES ($1, $2)
ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&claimed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: claim idempotency: %w", err)
	}
	return claimed, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation,
// used by callers (e.g. principal signup) to return a friendly conflict
// instead of a raw driver error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// IsUniqueViolation is the exported form of isUniqueViolation.
func IsUniqueViolation(err error) bool {
	return isUniqueViolation(err)
}
