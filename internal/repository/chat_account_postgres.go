package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guildlink/internal/models"
)

type ChatAccountPostgres struct {
	db *sql.DB
}

func NewChatAccountPostgres(db *sql.DB) *ChatAccountPostgres {
	return &ChatAccountPostgres{db: db}
}

const chatAccountColumns = `id, platform_id, username, COALESCE(display_name, ''), COALESCE(highest_role, ''), is_present`

func (r *ChatAccountPostgres) List(ctx context.Context) ([]models.ChatAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+chatAccountColumns+` FROM chat_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.ChatAccount
	for rows.Next() {
		var a models.ChatAccount
		if err := rows.Scan(&a.ID, &a.PlatformID, &a.Username, &a.DisplayName, &a.HighestRole, &a.IsPresent); err != nil {
			return nil, fmt.Errorf("failed to scan chat account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *ChatAccountPostgres) GetByID(ctx context.Context, id int64) (*models.ChatAccount, error) {
	var a models.ChatAccount
	err := r.db.QueryRowContext(ctx, `SELECT `+chatAccountColumns+` FROM chat_accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.PlatformID, &a.Username, &a.DisplayName, &a.HighestRole, &a.IsPresent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat account %d: %w", id, err)
	}
	return &a, nil
}
