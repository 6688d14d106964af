package shared

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFinancialYear(t *testing.T) {
	cases := map[string]time.Time{
		"2425": time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC),
		"2324": time.Date(2024, time.March, 31, 23, 59, 0, 0, time.UTC),
		"2526": time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		"9900": time.Date(2000, time.January, 3, 0, 0, 0, 0, time.UTC),
	}
	for want, at := range cases {
		require.Equal(t, want, FinancialYear(at), at.String())
	}
}

func TestKindOfWrapped(t *testing.T) {
	errBad := NewError(KindValidation, "bad", "bad input")
	wrapped := fmt.Errorf("save: %w", errBad)
	require.Equal(t, KindValidation, KindOf(wrapped))
	require.Equal(t, "bad", CodeOf(wrapped))
	require.True(t, errors.Is(wrapped, errBad))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestScopeFor(t *testing.T) {
	admin := Caller{UserID: "u1", DivisionID: 1, Roles: []string{"p2p.admin"}}
	user := Caller{UserID: "u2", DivisionID: 2}
	require.True(t, ScopeFor(admin, "p2p.admin").Allows(9))
	scope := ScopeFor(user, "p2p.admin")
	require.True(t, scope.Allows(2))
	require.False(t, scope.Allows(1))
	require.False(t, user.HasRole(""))
}

func TestSessionStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, "test:", time.Hour)
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	caller := Caller{UserID: "42", Name: "Asha", DivisionID: 3, Roles: []string{"buyer"}}
	require.NoError(t, store.Save(ctx, "tok", caller))
	got, err := store.Load(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, caller, got)

	require.NoError(t, store.Delete(ctx, "tok"))
	_, err = store.Load(ctx, "tok")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPageFromQuery(t *testing.T) {
	p := PageFromQuery(url.Values{"page": {"3"}, "per_page": {"500"}})
	require.Equal(t, 200, p.Limit())
	require.Equal(t, 400, p.Offset())
	require.Equal(t, 0, PageFromQuery(url.Values{}).Offset())
	require.Equal(t, 3, NewPagination(1, 10, 21).TotalPages)
}
