package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"guildlink/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuild struct {
	roles     []*discordgo.Role
	rolesErr  error
	memberErr error
	listCalls int
	added     []string
	removed   []string
}

func (f *fakeGuild) GuildRoles(string, ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.listCalls++
	return f.roles, f.rolesErr
}

func (f *fakeGuild) GuildMemberRoleAdd(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	if f.memberErr != nil {
		return f.memberErr
	}
	f.added = append(f.added, userID+":"+roleID)
	return nil
}

func (f *fakeGuild) GuildMemberRoleRemove(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	if f.memberErr != nil {
		return f.memberErr
	}
	f.removed = append(f.removed, userID+":"+roleID)
	return nil
}

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

func newTestClient(api *fakeGuild) *RoleClient {
	return newRoleClient(api, "guild-1", logger.Discard())
}

func TestRoleClient_AddRoleResolvesNameOnce(t *testing.T) {
	api := &fakeGuild{roles: []*discordgo.Role{{ID: "r1", Name: "Raider"}, {ID: "r2", Name: "Officer"}}}
	c := newTestClient(api)

	require.NoError(t, c.AddRole(context.Background(), "u1", "raider"))
	require.NoError(t, c.AddRole(context.Background(), "u2", "Officer"))

	assert.Equal(t, []string{"u1:r1", "u2:r2"}, api.added)
	assert.Equal(t, 1, api.listCalls)
}

func TestRoleClient_UnknownRole(t *testing.T) {
	api := &fakeGuild{roles: []*discordgo.Role{{ID: "r1", Name: "Raider"}}}
	c := newTestClient(api)

	err := c.AddRole(context.Background(), "u1", "Officer")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.NotErrorIs(t, err, ErrUnavailable)

	// removing a role the guild does not have is a no-op
	assert.NoError(t, c.RemoveRole(context.Background(), "u1", "Officer"))
	assert.Empty(t, api.removed)
}

func TestRoleClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{name: "server error", err: restError(http.StatusBadGateway), unavailable: true},
		{name: "rate limited", err: restError(http.StatusTooManyRequests), unavailable: true},
		{name: "network", err: errors.New("dial tcp: connection refused"), unavailable: true},
		{name: "forbidden", err: restError(http.StatusForbidden), unavailable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeGuild{roles: []*discordgo.Role{{ID: "r1", Name: "Raider"}}, memberErr: tt.err}
			c := newTestClient(api)

			err := c.AddRole(context.Background(), "u1", "Raider")
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrUnavailable))
		})
	}
}

func TestRoleClient_RoleListUnavailable(t *testing.T) {
	api := &fakeGuild{rolesErr: restError(http.StatusServiceUnavailable)}
	c := newTestClient(api)

	err := c.RemoveRole(context.Background(), "u1", "Raider")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRoleClient_RequiresToken(t *testing.T) {
	_, err := NewRoleClient("", "guild", logger.Discard())
	assert.ErrorIs(t, err, ErrUnavailable)
}
