package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/shorturl/internal/app/model"
	"github.com/sifan077/shorturl/internal/app/repository"
	"github.com/sifan077/shorturl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory returns an empty store. Each call must start from a clean slate.
type storeFactory func(t *testing.T) repository.Store

var created = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) repository.Store {
		return repository.NewMemory().Store()
	})
}

func TestGormStore(t *testing.T) {
	pg := testutils.SetupPostgres(t)

	runStoreContract(t, func(t *testing.T) repository.Store {
		pg.Truncate(t)
		return repository.NewGormStore(pg.DB)
	})
}

func TestRedisStore(t *testing.T) {
	rdb := testutils.SetupRedis(t)

	runStoreContract(t, func(t *testing.T) repository.Store {
		testutils.FlushRedis(t, rdb)
		return repository.NewRedis(rdb, "test").Store()
	})
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("insert assigns sequential ids", func(t *testing.T) {
		testInsertAssignsIDs(t, newStore(t))
	})
	t.Run("drafts are invisible", func(t *testing.T) {
		testDraftsInvisible(t, newStore(t))
	})
	t.Run("update code", func(t *testing.T) {
		testUpdateCode(t, newStore(t))
	})
	t.Run("find by code", func(t *testing.T) {
		testFindByCode(t, newStore(t))
	})
	t.Run("find by owner", func(t *testing.T) {
		testFindByOwner(t, newStore(t))
	})
	t.Run("increment click count", func(t *testing.T) {
		testIncrementClickCount(t, newStore(t))
	})
	t.Run("record click", func(t *testing.T) {
		testRecordClick(t, newStore(t))
	})
	t.Run("record click on unknown link", func(t *testing.T) {
		testRecordClickUnknownLink(t, newStore(t))
	})
	t.Run("concurrent record click", func(t *testing.T) {
		testConcurrentRecordClick(t, newStore(t))
	})
	t.Run("range queries are half open", func(t *testing.T) {
		testRangeQueries(t, newStore(t))
	})
}

// createLink inserts a link and assigns code to it.
func createLink(t *testing.T, s repository.Store, owner int64, code string) *model.Link {
	t.Helper()

	link := &model.Link{OriginalURL: "https://example.com/" + code, OwnerID: owner, CreatedAt: created}
	id, err := s.Links.Insert(context.Background(), link)
	require.NoError(t, err)
	require.NoError(t, s.Links.UpdateCode(context.Background(), id, code))
	return link
}

func testInsertAssignsIDs(t *testing.T, s repository.Store) {
	ctx := context.Background()

	first := &model.Link{OriginalURL: "https://a.example", OwnerID: 1, CreatedAt: created}
	id1, err := s.Links.Insert(ctx, first)
	require.NoError(t, err)

	second := &model.Link{OriginalURL: "https://b.example", OwnerID: 1, CreatedAt: created}
	id2, err := s.Links.Insert(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.Equal(t, id1, first.ID)
}

func testDraftsInvisible(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, err := s.Links.Insert(ctx, &model.Link{OriginalURL: "https://draft.example", OwnerID: 1, CreatedAt: created})
	require.NoError(t, err)

	links, err := s.Links.FindByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func testUpdateCode(t *testing.T, s repository.Store) {
	ctx := context.Background()

	err := s.Links.UpdateCode(ctx, 99, "x")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	first := createLink(t, s, 1, "B")
	second := &model.Link{OriginalURL: "https://c.example", OwnerID: 1, CreatedAt: created}
	_, err = s.Links.Insert(ctx, second)
	require.NoError(t, err)

	err = s.Links.UpdateCode(ctx, second.ID, "B")
	assert.ErrorIs(t, err, repository.ErrDuplicateCode)

	// Re-assigning the same code to the same link is harmless.
	assert.NoError(t, s.Links.UpdateCode(ctx, first.ID, "B"))
}

func testFindByCode(t *testing.T, s repository.Store) {
	ctx := context.Background()
	createLink(t, s, 7, "B")

	link, err := s.Links.FindByCode(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), link.ID)
	assert.Equal(t, "B", link.Code())
	assert.Equal(t, "https://example.com/B", link.OriginalURL)
	assert.Equal(t, int64(7), link.OwnerID)
	assert.Equal(t, int64(0), link.ClickCount)
	assert.True(t, link.CreatedAt.Equal(created), "created_at = %s", link.CreatedAt)

	_, err = s.Links.FindByCode(ctx, "b")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	_, err = s.Links.FindByCode(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func testFindByOwner(t *testing.T, s repository.Store) {
	ctx := context.Background()
	createLink(t, s, 1, "B")
	createLink(t, s, 2, "C")
	createLink(t, s, 1, "D")

	links, err := s.Links.FindByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "B", links[0].Code())
	assert.Equal(t, "D", links[1].Code())

	links, err = s.Links.FindByOwner(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func testIncrementClickCount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	link := createLink(t, s, 1, "B")

	n, err := s.Links.IncrementClickCount(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Links.IncrementClickCount(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Links.IncrementClickCount(ctx, 404)
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func testRecordClick(t *testing.T, s repository.Store) {
	ctx := context.Background()
	link := createLink(t, s, 1, "B")
	at := created.Add(time.Hour)

	event := &model.ClickEvent{LinkID: link.ID, OccurredAt: at}
	n, err := s.Recorder.RecordClick(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Positive(t, event.ID)

	stored, err := s.Links.FindByCode(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ClickCount)

	events, err := s.Clicks.FindByLinkAndRange(ctx, link.ID, created, created.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, link.ID, events[0].LinkID)
	assert.True(t, events[0].OccurredAt.Equal(at), "occurred_at = %s", events[0].OccurredAt)
}

func testRecordClickUnknownLink(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, err := s.Recorder.RecordClick(ctx, &model.ClickEvent{LinkID: 404, OccurredAt: created})
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	events, err := s.Clicks.FindByLinkAndRange(ctx, 404, created.Add(-time.Hour), created.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testConcurrentRecordClick(t *testing.T, s repository.Store) {
	ctx := context.Background()
	link := createLink(t, s, 1, "B")

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Recorder.RecordClick(ctx, &model.ClickEvent{
				LinkID:     link.ID,
				OccurredAt: created.Add(time.Duration(i) * time.Second),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := s.Links.FindByCode(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), stored.ClickCount)

	events, err := s.Clicks.FindByLinkAndRange(ctx, link.ID, created, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, workers)
}

func testRangeQueries(t *testing.T, s repository.Store) {
	ctx := context.Background()
	first := createLink(t, s, 1, "B")
	second := createLink(t, s, 1, "C")

	day := func(d, h int) time.Time { return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC) }
	record := func(linkID int64, at time.Time) {
		_, err := s.Recorder.RecordClick(ctx, &model.ClickEvent{LinkID: linkID, OccurredAt: at})
		require.NoError(t, err)
	}

	record(first.ID, day(1, 0))
	record(first.ID, day(1, 12))
	record(first.ID, day(2, 0))
	record(second.ID, day(1, 6))
	require.NoError(t, s.Clicks.Append(ctx, &model.ClickEvent{LinkID: second.ID, OccurredAt: day(3, 0)}))

	events, err := s.Clicks.FindByLinkAndRange(ctx, first.ID, day(1, 0), day(2, 0))
	require.NoError(t, err)
	assert.Len(t, events, 2, "start is inclusive and end is exclusive")

	events, err = s.Clicks.FindByLinksAndRange(ctx, []int64{first.ID, second.ID}, day(1, 0), day(4, 0))
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].OccurredAt.Before(events[i-1].OccurredAt), "events are ordered by time")
	}

	events, err = s.Clicks.FindByLinksAndRange(ctx, nil, day(1, 0), day(4, 0))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = s.Clicks.FindByLinkAndRange(ctx, first.ID, day(2, 0), day(1, 0))
	require.NoError(t, err)
	assert.Empty(t, events)
}
