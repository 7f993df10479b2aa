package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guildlink/internal/models"
)

const characterColumns = `
	c.id, c.name, c.realm, c.class_id, c.spec_id, c.rank_id,
	COALESCE(r.name, ''), COALESCE(r.level, 0),
	COALESCE(c.guild_note, ''), COALESCE(c.officer_note, ''),
	c.last_login_at, c.removed_at`

const characterFrom = `
	FROM wow_characters c
	LEFT JOIN guild_ranks r ON r.id = c.rank_id`

type CharacterPostgres struct {
	db *sql.DB
}

func NewCharacterPostgres(db *sql.DB) *CharacterPostgres {
	return &CharacterPostgres{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner, extra ...any) (models.Character, error) {
	var (
		c         models.Character
		classID   sql.NullInt32
		specID    sql.NullInt32
		rankID    sql.NullInt32
		lastLogin sql.NullTime
		removedAt sql.NullTime
	)
	dest := []any{
		&c.ID, &c.Name, &c.Realm, &classID, &specID, &rankID,
		&c.RankName, &c.RankLevel, &c.GuildNote, &c.OfficerNote,
		&lastLogin, &removedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return c, err
	}
	c.ClassID = intPtr(classID)
	c.SpecID = intPtr(specID)
	c.RankID = intPtr(rankID)
	c.LastLoginAt = timePtr(lastLogin)
	c.RemovedAt = timePtr(removedAt)
	return c, nil
}

func (r *CharacterPostgres) queryCharacters(ctx context.Context, query string, args ...any) ([]models.Character, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func (r *CharacterPostgres) ListUnlinked(ctx context.Context, minRankLevel int) ([]models.Character, error) {
	query := `SELECT ` + characterColumns + characterFrom + `
		WHERE c.removed_at IS NULL
		  AND COALESCE(r.level, 0) >= $1
		  AND NOT EXISTS (SELECT 1 FROM player_characters pc WHERE pc.character_id = c.id)
		ORDER BY c.id`
	chars, err := r.queryCharacters(ctx, query, minRankLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked characters: %w", err)
	}
	return chars, nil
}

func (r *CharacterPostgres) ListLinked(ctx context.Context) ([]models.LinkedCharacter, error) {
	query := `SELECT ` + characterColumns + `, pc.player_id` + characterFrom + `
		JOIN player_characters pc ON pc.character_id = c.id
		WHERE c.removed_at IS NULL
		ORDER BY c.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked characters: %w", err)
	}
	defer rows.Close()

	var linked []models.LinkedCharacter
	for rows.Next() {
		var playerID int64
		c, err := scanCharacter(rows, &playerID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linked character: %w", err)
		}
		linked = append(linked, models.LinkedCharacter{Character: c, PlayerID: playerID})
	}
	return linked, rows.Err()
}

func (r *CharacterPostgres) ListActive(ctx context.Context) ([]models.Character, error) {
	query := `SELECT ` + characterColumns + characterFrom + `
		WHERE c.removed_at IS NULL
		ORDER BY c.id`
	chars, err := r.queryCharacters(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return chars, nil
}

func (r *CharacterPostgres) GetByID(ctx context.Context, id int64) (*models.Character, error) {
	query := `SELECT ` + characterColumns + characterFrom + ` WHERE c.id = $1`
	c, err := scanCharacter(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character %d: %w", id, err)
	}
	return &c, nil
}
