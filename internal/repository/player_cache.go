package repository

import (
	"sync"

	"guildlink/internal/models"
)

// PlayerCache provides thread-safe in-memory lookups of existing players
// by chat account and by normalized identity key.
type PlayerCache struct {
	mu     sync.RWMutex
	byChat map[int64]int64
	byKey  map[string]int64
}

func NewPlayerCache() *PlayerCache {
	return &PlayerCache{
		byChat: make(map[int64]int64),
		byKey:  make(map[string]int64),
	}
}

// ByChatAccount returns the player holding a chat account.
func (c *PlayerCache) ByChatAccount(chatAccountID int64) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, found := c.byChat[chatAccountID]
	return id, found
}

func (c *PlayerCache) SetChatAccount(chatAccountID, playerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byChat[chatAccountID] = playerID
}

// ByKey returns the player owning a character with the given note key or name.
func (c *PlayerCache) ByKey(key string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, found := c.byKey[key]
	return id, found
}

// SetKey records key for playerID. The first owner wins.
func (c *PlayerCache) SetKey(key string, playerID int64) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byKey[key]; !ok {
		c.byKey[key] = playerID
	}
}

func (c *PlayerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byChat = make(map[int64]int64)
	c.byKey = make(map[string]int64)
}

// LoadAll warms the chat account index. The lowest player id wins on duplicates.
func (c *PlayerCache) LoadAll(players []models.Player) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range players {
		if p.ChatAccountID == nil {
			continue
		}
		if existing, ok := c.byChat[*p.ChatAccountID]; ok && existing < p.ID {
			continue
		}
		c.byChat[*p.ChatAccountID] = p.ID
	}
}

func (c *PlayerCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byChat) + len(c.byKey)
}
