package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guildlink/internal/models"
)

type PlayerPostgres struct {
	db *sql.DB
}

func NewPlayerPostgres(db *sql.DB) *PlayerPostgres {
	return &PlayerPostgres{db: db}
}

const playerColumns = `p.id, p.display_name, p.chat_account_id, p.website_user_id, p.rank_id,
	p.main_character_id, p.offspec_character_id, p.created_at, p.updated_at`

func scanPlayer(row rowScanner) (models.Player, error) {
	var (
		p         models.Player
		chatID    sql.NullInt64
		websiteID sql.NullInt64
		rankID    sql.NullInt32
		mainID    sql.NullInt64
		offspecID sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.DisplayName, &chatID, &websiteID, &rankID, &mainID, &offspecID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.ChatAccountID = int64Ptr(chatID)
	p.WebsiteUserID = int64Ptr(websiteID)
	p.RankID = intPtr(rankID)
	p.MainCharacterID = int64Ptr(mainID)
	p.OffspecCharacterID = int64Ptr(offspecID)
	return p, nil
}

func (r *PlayerPostgres) queryPlayers(ctx context.Context, query string, args ...any) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *PlayerPostgres) List(ctx context.Context) ([]models.Player, error) {
	players, err := r.queryPlayers(ctx, `SELECT `+playerColumns+` FROM players p ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

func (r *PlayerPostgres) GetByID(ctx context.Context, id int64) (*models.Player, error) {
	p, err := scanPlayer(r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players p WHERE p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %d: %w", id, err)
	}
	return &p, nil
}

func (r *PlayerPostgres) ListByChatAccount(ctx context.Context, chatAccountID int64) ([]models.Player, error) {
	players, err := r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM players p WHERE p.chat_account_id = $1 ORDER BY p.id`, chatAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players for chat account %d: %w", chatAccountID, err)
	}
	return players, nil
}

func (r *PlayerPostgres) GetByCharacter(ctx context.Context, characterID int64) (*models.Player, error) {
	p, err := scanPlayer(r.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+`
		FROM players p
		JOIN player_characters pc ON pc.player_id = p.id
		WHERE pc.character_id = $1`, characterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner of character %d: %w", characterID, err)
	}
	return &p, nil
}

func (r *PlayerPostgres) ListCharacters(ctx context.Context, playerID int64) ([]models.Character, error) {
	query := `SELECT ` + characterColumns + characterFrom + `
		JOIN player_characters pc ON pc.character_id = c.id
		WHERE pc.player_id = $1 AND c.removed_at IS NULL
		ORDER BY c.id`
	rows, err := r.db.QueryContext(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters of player %d: %w", playerID, err)
	}
	defer rows.Close()

	var chars []models.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

// linkInTx inserts bridge rows for live characters, skipping those already owned.
func linkInTx(ctx context.Context, tx *sql.Tx, playerID int64, characterIDs []int64) (int, error) {
	linked := 0
	for _, charID := range characterIDs {
		var owned bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM player_characters WHERE character_id = $1)`, charID).Scan(&owned)
		if err != nil {
			return 0, fmt.Errorf("failed to check link of character %d: %w", charID, err)
		}
		if owned {
			continue
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO player_characters (player_id, character_id)
			SELECT $1, id FROM wow_characters WHERE id = $2 AND removed_at IS NULL
			ON CONFLICT (character_id) DO NOTHING`, playerID, charID)
		if err != nil {
			return 0, fmt.Errorf("failed to link character %d: %w", charID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		linked += int(n)
	}
	return linked, nil
}

// claimChatAccount locks the chat account row for the rest of tx and fails
// with ErrConflict when a player already holds the account. Concurrent
// claims of the same account serialize on the row lock.
func claimChatAccount(ctx context.Context, tx *sql.Tx, chatAccountID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM chat_accounts WHERE id = $1 FOR UPDATE`, chatAccountID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chat account %d: %w", chatAccountID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock chat account %d: %w", chatAccountID, err)
	}

	var held bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM players WHERE chat_account_id = $1)`, chatAccountID).Scan(&held)
	if err != nil {
		return fmt.Errorf("failed to check chat account %d: %w", chatAccountID, err)
	}
	if held {
		return fmt.Errorf("chat account %d: %w", chatAccountID, ErrConflict)
	}
	return nil
}

func (r *PlayerPostgres) CreateWithCharacters(ctx context.Context, draft models.PlayerDraft, characterIDs []int64) (int64, int, error) {
	var (
		playerID int64
		linked   int
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if draft.ChatAccountID != nil {
			if err := claimChatAccount(ctx, tx, *draft.ChatAccountID); err != nil {
				return err
			}
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO players (display_name, chat_account_id, rank_id)
			VALUES ($1, $2, $3) RETURNING id`,
			draft.DisplayName, draft.ChatAccountID, draft.RankID).Scan(&playerID)
		if err != nil {
			return fmt.Errorf("failed to insert player: %w", err)
		}

		linked, err = linkInTx(ctx, tx, playerID, characterIDs)
		if err != nil {
			return err
		}
		if linked == 0 {
			return fmt.Errorf("no linkable characters for %q: %w", draft.DisplayName, ErrConflict)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return playerID, linked, nil
}

func (r *PlayerPostgres) LinkCharacters(ctx context.Context, playerID int64, characterIDs []int64) (int, error) {
	var linked int
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM players WHERE id = $1)`, playerID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check player %d: %w", playerID, err)
		}
		if !exists {
			return fmt.Errorf("player %d: %w", playerID, ErrNotFound)
		}

		var err error
		linked, err = linkInTx(ctx, tx, playerID, characterIDs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE players SET updated_at = NOW() WHERE id = $1`, playerID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}

func (r *PlayerPostgres) UnlinkCharacter(ctx context.Context, playerID, characterID int64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM player_characters WHERE player_id = $1 AND character_id = $2`, playerID, characterID)
		if err != nil {
			return fmt.Errorf("failed to unlink character %d: %w", characterID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("link %d/%d: %w", playerID, characterID, ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE players SET
				main_character_id = CASE WHEN main_character_id = $2 THEN NULL ELSE main_character_id END,
				offspec_character_id = CASE WHEN offspec_character_id = $2 THEN NULL ELSE offspec_character_id END,
				updated_at = NOW()
			WHERE id = $1`, playerID, characterID)
		if err != nil {
			return fmt.Errorf("failed to clear character pointers: %w", err)
		}
		return nil
	})
}

func (r *PlayerPostgres) AttachChatAccount(ctx context.Context, playerID, chatAccountID int64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := claimChatAccount(ctx, tx, chatAccountID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE players SET chat_account_id = $2, updated_at = NOW()
			WHERE id = $1 AND chat_account_id IS NULL`, playerID, chatAccountID)
		if err != nil {
			return fmt.Errorf("failed to attach chat account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("player %d already has a chat account: %w", playerID, ErrConflict)
		}
		return nil
	})
}
