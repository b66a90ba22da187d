// Package resolver maps opaque recipient tokens to deliverable addresses.
package resolver

import (
	"context"

	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
)

// Result partitions the input tokens. A token missing from Addresses is not
// an error: Unresolved and Malformed exist so callers can log every dropped
// recipient instead of losing it silently.
type Result struct {
	Addresses  []string // deliverable, deduplicated, input order preserved
	Unresolved []string // structured user refs with no matching user
	Malformed  []string // neither an address nor a user ref
}

type Resolver struct {
	users repository.UsersRepository
}

func New(users repository.UsersRepository) *Resolver {
	return &Resolver{users: users}
}

// Resolve classifies every token and batch-resolves all user refs in a
// single lookup. A failed batch lookup degrades to all refs unresolved
// rather than failing the whole call: literal addresses still deliver.
func (r *Resolver) Resolve(ctx context.Context, tokens []string) (Result, error) {
	var res Result
	var refs []string
	seen := make(map[string]bool, len(tokens))

	for _, raw := range tokens {
		t := model.ParseRecipient(raw)
		switch t.Kind {
		case model.RecipientAddress:
			if !seen[t.Raw] {
				seen[t.Raw] = true
				res.Addresses = append(res.Addresses, t.Raw)
			}
		case model.RecipientUserRef:
			refs = append(refs, t.Raw)
		default:
			res.Malformed = append(res.Malformed, t.Raw)
		}
	}

	if len(refs) == 0 {
		return res, nil
	}

	emails, err := r.users.EmailsByIDs(ctx, refs)
	if err != nil {
		res.Unresolved = append(res.Unresolved, refs...)
		return res, err
	}

	for _, id := range refs {
		email, ok := emails[id]
		if !ok {
			res.Unresolved = append(res.Unresolved, id)
			continue
		}
		if !seen[email] {
			seen[email] = true
			res.Addresses = append(res.Addresses, email)
		}
	}
	return res, nil
}
