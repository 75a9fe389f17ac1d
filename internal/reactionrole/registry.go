// Package reactionrole grants and revokes roles when members add or remove
// configured reactions.
package reactionrole

import (
	"errors"
	"fmt"
	"strings"
)

// Rule grants RoleID to whoever reacts with the custom emoji EmojiID.
type Rule struct {
	EmojiID string
	RoleID  string
}

// Agreement grants RoleID for a reaction with the unicode emoji EmojiName,
// but only on a message whose first embed is titled MessageTitle.
type Agreement struct {
	EmojiName    string
	MessageTitle string
	RoleID       string
}

// Registry is the immutable rule table, built once at start.
type Registry struct {
	byEmoji   map[string]string
	agreement *Agreement
}

var ErrInvalidRule = errors.New("invalid reaction role rule")

// NewRegistry validates and freezes the rules. agreement may be nil.
func NewRegistry(rules []Rule, agreement *Agreement) (*Registry, error) {
	reg := &Registry{byEmoji: make(map[string]string, len(rules))}
	for i, r := range rules {
		emoji, role := strings.TrimSpace(r.EmojiID), strings.TrimSpace(r.RoleID)
		if emoji == "" || role == "" {
			return nil, fmt.Errorf("%w: rule %d needs emoji_id and role_id", ErrInvalidRule, i)
		}
		if _, dup := reg.byEmoji[emoji]; dup {
			return nil, fmt.Errorf("%w: emoji %s mapped twice", ErrInvalidRule, emoji)
		}
		reg.byEmoji[emoji] = role
	}
	if agreement != nil {
		a := *agreement
		if a.EmojiName == "" || a.MessageTitle == "" || a.RoleID == "" {
			return nil, fmt.Errorf("%w: agreement needs emoji, title and role", ErrInvalidRule)
		}
		reg.agreement = &a
	}
	return reg, nil
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	n := len(r.byEmoji)
	if r.agreement != nil {
		n++
	}
	return n
}

// RoleFor returns the role mapped to a custom emoji id.
func (r *Registry) RoleFor(emojiID string) (string, bool) {
	if r == nil || emojiID == "" {
		return "", false
	}
	role, ok := r.byEmoji[emojiID]
	return role, ok
}

// NeedsTitle reports whether emojiName triggers the agreement rule, which
// requires the reacted message's first embed title.
func (r *Registry) NeedsTitle(emojiName string) bool {
	return r != nil && r.agreement != nil && emojiName == r.agreement.EmojiName
}

// AgreementRole returns the agreement role when emojiName and title match.
func (r *Registry) AgreementRole(emojiName, title string) (string, bool) {
	if !r.NeedsTitle(emojiName) || title != r.agreement.MessageTitle {
		return "", false
	}
	return r.agreement.RoleID, true
}
