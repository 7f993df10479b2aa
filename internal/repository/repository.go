package repository

import (
	"context"
	"database/sql"

	"guildlink/internal/models"
)

type Character interface {
	// ListUnlinked returns non-removed characters at or above minRankLevel with no owner.
	ListUnlinked(ctx context.Context, minRankLevel int) ([]models.Character, error)
	// ListLinked returns non-removed characters that have an owner.
	ListLinked(ctx context.Context) ([]models.LinkedCharacter, error)
	// ListActive returns every non-removed character.
	ListActive(ctx context.Context) ([]models.Character, error)
	GetByID(ctx context.Context, id int64) (*models.Character, error)
}

type ChatAccount interface {
	List(ctx context.Context) ([]models.ChatAccount, error)
	GetByID(ctx context.Context, id int64) (*models.ChatAccount, error)
}

type Player interface {
	List(ctx context.Context) ([]models.Player, error)
	GetByID(ctx context.Context, id int64) (*models.Player, error)
	ListByChatAccount(ctx context.Context, chatAccountID int64) ([]models.Player, error)
	// GetByCharacter returns the owner of a character, ErrNotFound when unlinked.
	GetByCharacter(ctx context.Context, characterID int64) (*models.Player, error)
	// ListCharacters returns the non-removed characters owned by a player.
	ListCharacters(ctx context.Context, playerID int64) ([]models.Character, error)

	// CreateWithCharacters creates a player and links the given characters in one
	// transaction. Characters already owned are skipped. ErrConflict is returned when
	// the chat account is already held or no character could be linked.
	CreateWithCharacters(ctx context.Context, draft models.PlayerDraft, characterIDs []int64) (playerID int64, linked int, err error)
	// LinkCharacters links characters to an existing player, skipping owned ones.
	LinkCharacters(ctx context.Context, playerID int64, characterIDs []int64) (int, error)
	// UnlinkCharacter removes the bridge row and clears main/offspec pointers to it.
	UnlinkCharacter(ctx context.Context, playerID, characterID int64) error
	// AttachChatAccount sets the chat account of a player that has none.
	AttachChatAccount(ctx context.Context, playerID, chatAccountID int64) error
}

type Issue interface {
	// Upsert refreshes the open issue with the same type and hash, or inserts one.
	Upsert(ctx context.Context, draft models.IssueDraft) (id int64, created bool, err error)
	GetByID(ctx context.Context, id int64) (*models.AuditIssue, error)
	// ListOpen returns unresolved issues of the given types in creation order.
	// No types means all types.
	ListOpen(ctx context.Context, types ...models.IssueType) ([]models.AuditIssue, error)
	// Resolve closes an open issue. ErrNotFound when missing or already resolved.
	Resolve(ctx context.Context, id int64, resolvedBy, resolution string) error
}

type Repository struct {
	Characters   Character
	ChatAccounts ChatAccount
	Players      Player
	Issues       Issue
	db           *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Characters:   NewCharacterPostgres(db),
		ChatAccounts: NewChatAccountPostgres(db),
		Players:      NewPlayerPostgres(db),
		Issues:       NewIssuePostgres(db),
		db:           db,
	}
}

func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}
