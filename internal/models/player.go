package models

import "time"

// Player is the canonical identity joining characters with a chat and website account.
type Player struct {
	ID                 int64     `json:"id" db:"id"`
	DisplayName        string    `json:"display_name" db:"display_name"`
	ChatAccountID      *int64    `json:"chat_account_id" db:"chat_account_id"`
	WebsiteUserID      *int64    `json:"website_user_id" db:"website_user_id"`
	RankID             *int      `json:"rank_id" db:"rank_id"`
	MainCharacterID    *int64    `json:"main_character_id" db:"main_character_id"`
	OffspecCharacterID *int64    `json:"offspec_character_id" db:"offspec_character_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// IsStub reports whether the player was created without a chat account.
func (p Player) IsStub() bool {
	return p.ChatAccountID == nil
}

// PlayerDraft carries the fields needed to create a player.
type PlayerDraft struct {
	DisplayName   string
	ChatAccountID *int64
	RankID        *int
}

// PlayerCharacter is a row of the bridge table. CharacterID is unique.
type PlayerCharacter struct {
	PlayerID    int64     `json:"player_id" db:"player_id"`
	CharacterID int64     `json:"character_id" db:"character_id"`
	LinkedAt    time.Time `json:"linked_at" db:"linked_at"`
}
