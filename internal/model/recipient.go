package model

import (
	"strings"

	"github.com/google/uuid"
)

type RecipientKind int

const (
	RecipientAddress RecipientKind = iota
	RecipientUserRef
	RecipientMalformed
)

// RecipientToken classifies one opaque recipient string: a literal email
// address, a structured user identifier (UUID) resolved at processing time,
// or neither. Tokens are never persisted in classified form; resolution is
// recomputed on every processing attempt.
type RecipientToken struct {
	Kind RecipientKind
	Raw  string
}

func ParseRecipient(raw string) RecipientToken {
	raw = strings.TrimSpace(raw)
	if _, err := uuid.Parse(raw); err == nil {
		return RecipientToken{Kind: RecipientUserRef, Raw: raw}
	}
	if strings.Contains(raw, "@") {
		return RecipientToken{Kind: RecipientAddress, Raw: raw}
	}
	return RecipientToken{Kind: RecipientMalformed, Raw: raw}
}
