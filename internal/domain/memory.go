package domain

import (
	"fmt"
	"time"
)

// MemoryType categorizes a stored memory.
type MemoryType string

const (
	MemoryFactual      MemoryType = "factual"
	MemoryPreference   MemoryType = "preference"
	MemoryPersonal     MemoryType = "personal"
	MemoryContextual   MemoryType = "contextual"
	MemoryTemporal     MemoryType = "temporal"
	MemoryTask         MemoryType = "task"
	MemorySkill        MemoryType = "skill"
	MemoryInterest     MemoryType = "interest"
	MemoryEvent        MemoryType = "event"
	MemoryLocation     MemoryType = "location"
	MemoryRelationship MemoryType = "relationship"
)

// MemoryScope is an isolation boundary partitioning stored memories.
type MemoryScope string

const (
	ScopeGlobal MemoryScope = "global"
	ScopePreset MemoryScope = "preset"
	ScopeUser   MemoryScope = "user"
	ScopeGuild  MemoryScope = "guild"
)

// ParseMemoryScope validates a scope name.
func ParseMemoryScope(s string) (MemoryScope, error) {
	switch MemoryScope(s) {
	case ScopeGlobal, ScopePreset, ScopeUser, ScopeGuild:
		return MemoryScope(s), nil
	}
	return "", fmt.Errorf("%w: unknown memory scope %q", ErrInvalidInput, s)
}

// EnhancedMemory is one salient fact held in long-term memory.
type EnhancedMemory struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Type       MemoryType  `json:"type"`
	Importance int         `json:"importance"` // 1..10
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Scope      MemoryScope `json:"scope"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Expired reports whether the memory has an expiration in the past.
func (m EnhancedMemory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}
