package models

import "time"

// Character is an in-game roster entry written by the roster sync.
type Character struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Realm       string     `json:"realm" db:"realm"`
	ClassID     *int       `json:"class_id" db:"class_id"`
	SpecID      *int       `json:"spec_id" db:"spec_id"`
	RankID      *int       `json:"rank_id" db:"rank_id"`
	RankName    string     `json:"rank_name" db:"rank_name"`
	RankLevel   int        `json:"rank_level" db:"rank_level"`
	GuildNote   string     `json:"guild_note" db:"guild_note"`
	OfficerNote string     `json:"officer_note" db:"officer_note"`
	LastLoginAt *time.Time `json:"last_login_at" db:"last_login_at"`
	RemovedAt   *time.Time `json:"removed_at" db:"removed_at"`
}

func (c Character) IsRemoved() bool {
	return c.RemovedAt != nil
}

func (c Character) HasRank() bool {
	return c.RankID != nil
}

// LinkedCharacter is a character together with the player owning it.
type LinkedCharacter struct {
	Character
	PlayerID int64 `json:"player_id" db:"player_id"`
}
