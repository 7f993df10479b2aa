package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"guildlink/internal/models"

	"github.com/lib/pq"
)

type IssuePostgres struct {
	db *sql.DB
}

func NewIssuePostgres(db *sql.DB) *IssuePostgres {
	return &IssuePostgres{db: db}
}

const issueColumns = `id, issue_type, severity, character_id, chat_account_id, player_id,
	summary, details, hash, created_at, updated_at, resolved_at,
	COALESCE(resolved_by, ''), COALESCE(resolution, '')`

func scanIssue(row rowScanner) (models.AuditIssue, error) {
	var (
		i          models.AuditIssue
		charID     sql.NullInt64
		chatID     sql.NullInt64
		playerID   sql.NullInt64
		details    []byte
		resolvedAt sql.NullTime
	)
	err := row.Scan(&i.ID, &i.IssueType, &i.Severity, &charID, &chatID, &playerID,
		&i.Summary, &details, &i.Hash, &i.CreatedAt, &i.UpdatedAt, &resolvedAt,
		&i.ResolvedBy, &i.Resolution)
	if err != nil {
		return i, err
	}
	i.CharacterID = int64Ptr(charID)
	i.ChatAccountID = int64Ptr(chatID)
	i.PlayerID = int64Ptr(playerID)
	i.ResolvedAt = timePtr(resolvedAt)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &i.Details); err != nil {
			return i, fmt.Errorf("failed to decode details of issue %d: %w", i.ID, err)
		}
	}
	return i, nil
}

// Upsert relies on the partial unique index on (issue_type, hash) WHERE resolved_at IS NULL.
func (r *IssuePostgres) Upsert(ctx context.Context, draft models.IssueDraft) (int64, bool, error) {
	details, err := json.Marshal(draft.Details)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encode issue details: %w", err)
	}

	var (
		id       int64
		inserted bool
	)
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO audit_issues (issue_type, severity, character_id, chat_account_id, player_id, summary, details, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (issue_type, hash) WHERE resolved_at IS NULL
		DO UPDATE SET
			severity = EXCLUDED.severity,
			character_id = EXCLUDED.character_id,
			chat_account_id = EXCLUDED.chat_account_id,
			player_id = EXCLUDED.player_id,
			summary = EXCLUDED.summary,
			details = EXCLUDED.details,
			updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		draft.IssueType, draft.Severity, draft.CharacterID, draft.ChatAccountID, draft.PlayerID,
		draft.Summary, details, draft.Hash,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert %s issue: %w", draft.IssueType, err)
	}
	return id, inserted, nil
}

func (r *IssuePostgres) GetByID(ctx context.Context, id int64) (*models.AuditIssue, error) {
	i, err := scanIssue(r.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM audit_issues WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %d: %w", id, err)
	}
	return &i, nil
}

func (r *IssuePostgres) ListOpen(ctx context.Context, types ...models.IssueType) ([]models.AuditIssue, error) {
	query := `SELECT ` + issueColumns + ` FROM audit_issues WHERE resolved_at IS NULL`
	var args []any
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND issue_type = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list open issues: %w", err)
	}
	defer rows.Close()

	var issues []models.AuditIssue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func (r *IssuePostgres) Resolve(ctx context.Context, id int64, resolvedBy, resolution string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audit_issues SET resolved_at = NOW(), resolved_by = $2, resolution = $3, updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL`, id, resolvedBy, resolution)
	if err != nil {
		return fmt.Errorf("failed to resolve issue %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("open issue %d: %w", id, ErrNotFound)
	}
	return nil
}
