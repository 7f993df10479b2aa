package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type IssueType string

const (
	IssueNoteMismatch        IssueType = "note_mismatch"
	IssueOrphanCharacter     IssueType = "orphan_character"
	IssueOrphanChatAccount   IssueType = "orphan_chat_account"
	IssueRoleMismatch        IssueType = "role_mismatch"
	IssueNoGuildRole         IssueType = "no_guild_role"
	IssueStaleCharacter      IssueType = "stale_character"
	IssueLowConfidenceMatch  IssueType = "low_confidence_match"
	IssueLinkContradictsNote IssueType = "link_contradicts_note"
	IssueDuplicateChatLink   IssueType = "duplicate_chat_link"
	IssueStaleChatLink       IssueType = "stale_chat_link"
)

// AllIssueTypes lists every issue type the engine can raise.
var AllIssueTypes = []IssueType{
	IssueNoteMismatch,
	IssueOrphanCharacter,
	IssueOrphanChatAccount,
	IssueRoleMismatch,
	IssueNoGuildRole,
	IssueStaleCharacter,
	IssueLowConfidenceMatch,
	IssueLinkContradictsNote,
	IssueDuplicateChatLink,
	IssueStaleChatLink,
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	// ResolvedBySweep marks issues closed by the integrity auto-resolve sweep.
	ResolvedBySweep = "system:auto_resolve"
	// ResolvedByMitigation marks issues closed by the auto-mitigation batch.
	ResolvedByMitigation = "system:auto_mitigation"
)

// AuditIssue is a detected data-quality problem. At most one unresolved row
// exists per (IssueType, Hash).
type AuditIssue struct {
	ID            int64          `json:"id" db:"id"`
	IssueType     IssueType      `json:"issue_type" db:"issue_type"`
	Severity      Severity       `json:"severity" db:"severity"`
	CharacterID   *int64         `json:"character_id" db:"character_id"`
	ChatAccountID *int64         `json:"chat_account_id" db:"chat_account_id"`
	PlayerID      *int64         `json:"player_id" db:"player_id"`
	Summary       string         `json:"summary" db:"summary"`
	Details       map[string]any `json:"details" db:"details"`
	Hash          string         `json:"hash" db:"hash"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
	ResolvedAt    *time.Time     `json:"resolved_at" db:"resolved_at"`
	ResolvedBy    string         `json:"resolved_by" db:"resolved_by"`
	Resolution    string         `json:"resolution" db:"resolution"`
}

func (i AuditIssue) IsOpen() bool {
	return i.ResolvedAt == nil
}

// DetailString returns a string detail or "" when missing.
func (i AuditIssue) DetailString(key string) string {
	v, ok := i.Details[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// IssueDraft is the detector output handed to the issue upsert.
type IssueDraft struct {
	IssueType     IssueType
	Severity      Severity
	CharacterID   *int64
	ChatAccountID *int64
	PlayerID      *int64
	Summary       string
	Details       map[string]any
	Hash          string
}

// IssueHash derives the dedup hash of an issue from its type and identifying parts.
func IssueHash(t IssueType, parts ...any) string {
	var sb strings.Builder
	sb.WriteString(string(t))
	for _, p := range parts {
		sb.WriteString("|")
		switch v := p.(type) {
		case *int64:
			if v != nil {
				fmt.Fprintf(&sb, "%d", *v)
			}
		default:
			fmt.Fprint(&sb, v)
		}
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
