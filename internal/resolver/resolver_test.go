package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	emails map[string]string
	err    error
}

func (f *fakeUsers) EmailsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if e, ok := f.emails[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (f *fakeUsers) AdminEmails(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeUsers) AdminIDs(ctx context.Context) ([]string, error)   { return nil, nil }

const (
	userA = "00000000-0000-0000-0000-00000000000a"
	userB = "00000000-0000-0000-0000-00000000000b"
)

func TestResolve_Partition(t *testing.T) {
	r := New(&fakeUsers{emails: map[string]string{userA: "a@example.com"}})

	res, err := r.Resolve(context.Background(), []string{
		"direct@example.com",
		userA,
		userB,
		"garbage",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"direct@example.com", "a@example.com"}, res.Addresses)
	require.Equal(t, []string{userB}, res.Unresolved)
	require.Equal(t, []string{"garbage"}, res.Malformed)
}

func TestResolve_DeduplicatesPreservingOrder(t *testing.T) {
	r := New(&fakeUsers{emails: map[string]string{userA: "dup@example.com"}})

	res, err := r.Resolve(context.Background(), []string{
		"dup@example.com",
		"other@example.com",
		"dup@example.com",
		userA, // resolves to the same address
	})
	require.NoError(t, err)
	require.Equal(t, []string{"dup@example.com", "other@example.com"}, res.Addresses)
}

func TestResolve_BatchLookupFailureDegrades(t *testing.T) {
	lookupErr := errors.New("db down")
	r := New(&fakeUsers{err: lookupErr})

	res, err := r.Resolve(context.Background(), []string{"direct@example.com", userA, userB})
	require.ErrorIs(t, err, lookupErr)

	// Literal addresses still deliver; every ref degrades to unresolved.
	require.Equal(t, []string{"direct@example.com"}, res.Addresses)
	require.ElementsMatch(t, []string{userA, userB}, res.Unresolved)
}

func TestResolve_NoTokens(t *testing.T) {
	r := New(&fakeUsers{})

	res, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, res.Addresses)
	require.Empty(t, res.Unresolved)
	require.Empty(t, res.Malformed)
}
