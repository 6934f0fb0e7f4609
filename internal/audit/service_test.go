package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/tallyard/tallyard/testing"
)

type stubRepo struct {
	entries []Entry
	err     error

	gotFilters Filters
	gotOffset  int
	gotLimit   int
}

func (s *stubRepo) Timeline(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	s.gotFilters = filters
	s.gotOffset = offset
	s.gotLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[offset:end], nil
}

func makeEntries(n int) []Entry {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ID:         int64(n - i),
			ActorID:    1,
			Action:     "role.grants.commit",
			Entity:     "role_permissions",
			EntityID:   "3",
			OccurredAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}
	return entries
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{entries: makeEntries(25)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 20)
	assert.Equal(t, 1, result.Paging.Page)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Zero(t, result.Paging.PrevPage)
	// One extra row is requested to decide HasNext.
	assert.Equal(t, 21, repo.gotLimit)

	result, err = svc.Timeline(context.Background(), Filters{Page: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 5)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 20, repo.gotOffset)
}

func TestTimelinePageSizeClamp(t *testing.T) {
	repo := &stubRepo{entries: makeEntries(5)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), Filters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)

	result, err = svc.Timeline(context.Background(), Filters{PageSize: -1, Page: -3})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, result.Paging.PageSize)
	assert.Equal(t, 1, result.Paging.Page)
}

func TestTimelineForwardsFilters(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Timeline(context.Background(), Filters{From: from, ActorID: 7, Entity: "roles"})
	require.NoError(t, err)
	assert.Equal(t, from, repo.gotFilters.From)
	assert.Equal(t, int64(7), repo.gotFilters.ActorID)
	assert.Equal(t, "roles", repo.gotFilters.Entity)
}

func TestTimelineStoreFailure(t *testing.T) {
	repo := &stubRepo{err: errors.New("connection refused")}
	svc := NewService(repo)

	_, err := svc.Timeline(context.Background(), Filters{})
	require.Error(t, err)
}

func TestTimelineWithoutRepository(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Timeline(context.Background(), Filters{})
	require.Error(t, err)
}
