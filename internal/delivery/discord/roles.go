package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"guildlink/internal/mitigation"

	"github.com/bwmarrin/discordgo"
)

// ErrUnavailable is wrapped when Discord cannot be reached or is rate limiting.
var ErrUnavailable = mitigation.ErrChatUnavailable

var ErrRoleNotFound = errors.New("guild role not found")

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// guildAPI is the part of *discordgo.Session the role client uses.
type guildAPI interface {
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// RoleClient adds and removes guild roles by name over the Discord REST API.
type RoleClient struct {
	api     guildAPI
	guildID string
	logger  Logger

	mu    sync.Mutex
	roles map[string]string // lowercase role name -> role id
}

// NewRoleClient opens a bot session for the guild. An empty token is an error;
// callers treat a missing client as an unavailable platform.
func NewRoleClient(token, guildID string, logger Logger) (*RoleClient, error) {
	if token == "" || guildID == "" {
		return nil, fmt.Errorf("discord token and guild id are required: %w", ErrUnavailable)
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newRoleClient(s, guildID, logger), nil
}

func newRoleClient(api guildAPI, guildID string, logger Logger) *RoleClient {
	return &RoleClient{api: api, guildID: guildID, logger: logger}
}

func (c *RoleClient) AddRole(ctx context.Context, platformUserID, roleName string) error {
	roleID, err := c.roleID(ctx, roleName)
	if err != nil {
		return err
	}
	if err := c.api.GuildMemberRoleAdd(c.guildID, platformUserID, roleID, discordgo.WithContext(ctx)); err != nil {
		return classify(fmt.Sprintf("add role %s to %s", roleName, platformUserID), err)
	}
	c.logger.Debug("added role %s to member %s", roleName, platformUserID)
	return nil
}

func (c *RoleClient) RemoveRole(ctx context.Context, platformUserID, roleName string) error {
	roleID, err := c.roleID(ctx, roleName)
	if errors.Is(err, ErrRoleNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.api.GuildMemberRoleRemove(c.guildID, platformUserID, roleID, discordgo.WithContext(ctx)); err != nil {
		return classify(fmt.Sprintf("remove role %s from %s", roleName, platformUserID), err)
	}
	c.logger.Debug("removed role %s from member %s", roleName, platformUserID)
	return nil
}

// roleID looks a role up by case-insensitive name. The guild role list is
// fetched once and refetched when a name is missing.
func (c *RoleClient) roleID(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.roles[key]; ok {
		return id, nil
	}

	roles, err := c.api.GuildRoles(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify("list guild roles", err)
	}
	c.roles = make(map[string]string, len(roles))
	for _, r := range roles {
		c.roles[strings.ToLower(r.Name)] = r.ID
	}

	id, ok := c.roles[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return id, nil
}

// classify wraps transport failures, rate limits and server errors with
// ErrUnavailable. Other API errors (missing permissions, unknown member) are
// returned as they are.
func classify(op string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
