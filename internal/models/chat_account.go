package models

// ChatAccount is a Discord guild member written by the member sync.
type ChatAccount struct {
	ID          int64  `json:"id" db:"id"`
	PlatformID  string `json:"platform_id" db:"platform_id"`
	Username    string `json:"username" db:"username"`
	DisplayName string `json:"display_name" db:"display_name"`
	HighestRole string `json:"highest_role" db:"highest_role"`
	IsPresent   bool   `json:"is_present" db:"is_present"`
}

// Label is the name shown for the account, display name first.
func (a ChatAccount) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

func (a ChatAccount) HasGuildRole() bool {
	return a.HighestRole != ""
}
