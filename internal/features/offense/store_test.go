package offense_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wenbot/internal/common"
	"wenbot/internal/db/postgres"
	"wenbot/internal/db/sqlite"
	"wenbot/internal/features/offense"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSQLiteStore(t *testing.T, clock *fakeClock) offense.Store {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "timeout.db"))
	require.NoError(t, err)
	store := offense.NewSQLiteRepository(db, offense.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, newSQLiteStore)
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан")
	}
	runStoreContract(t, func(t *testing.T, clock *fakeClock) offense.Store {
		pool, err := postgres.Connect(context.Background(), dsn, 4, 1)
		require.NoError(t, err)
		store := offense.NewPostgresRepository(pool, offense.WithClock(clock.Now))
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timeout.db")
	clock := newFakeClock()

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	store := offense.NewSQLiteRepository(db, offense.WithClock(clock.Now))
	_, err = store.Create(ctx, 1, 10)
	require.NoError(t, err)
	_, err = store.Increment(ctx, 1, 10)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	store = offense.NewSQLiteRepository(db, offense.WithClock(clock.Now))
	defer store.Close()

	rec, err := store.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.OffenseCount)
	assert.Equal(t, clock.Now().Unix(), rec.LastPenaltyAt.Unix())
}

func TestSQLiteStoreClosedIsUnavailable(t *testing.T) {
	clock := newFakeClock()
	store := newSQLiteStore(t, clock)
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), 1, 1)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func runStoreContract(t *testing.T, newStore func(*testing.T, *fakeClock) offense.Store) {
	ctx := context.Background()
	// Уникальный чат на запуск: Postgres-база может быть общей
	space := time.Now().UnixNano()

	t.Run("get missing returns nil", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		rec, err := store.Get(ctx, 42, space)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("create then get", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		t.Cleanup(func() { _ = store.Delete(ctx, 1, space) })

		created, err := store.Create(ctx, 1, space)
		require.NoError(t, err)
		assert.Equal(t, 1, created.OffenseCount)

		rec, err := store.Get(ctx, 1, space)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(1), rec.UserID)
		assert.Equal(t, space, rec.SpaceID)
		assert.Equal(t, 1, rec.OffenseCount)
		assert.WithinDuration(t, clock.Now(), rec.LastPenaltyAt, time.Second)
		assert.Nil(t, rec.ReleasedAt)
	})

	t.Run("create twice is duplicate", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		t.Cleanup(func() { _ = store.Delete(ctx, 2, space) })

		_, err := store.Create(ctx, 2, space)
		require.NoError(t, err)
		_, err = store.Create(ctx, 2, space)
		assert.ErrorIs(t, err, common.ErrDuplicateKey)
	})

	t.Run("increment missing is not found", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		_, err := store.Increment(ctx, 3, space)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("increment bumps count and never rewinds timestamp", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		t.Cleanup(func() { _ = store.Delete(ctx, 4, space) })

		_, err := store.Create(ctx, 4, space)
		require.NoError(t, err)

		clock.Advance(time.Minute)
		rec, err := store.Increment(ctx, 4, space)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.OffenseCount)
		assert.Equal(t, clock.Now().Unix(), rec.LastPenaltyAt.Unix())
		latest := rec.LastPenaltyAt

		clock.Advance(-time.Hour)
		rec, err = store.Increment(ctx, 4, space)
		require.NoError(t, err)
		assert.Equal(t, 3, rec.OffenseCount)
		assert.Equal(t, latest.Unix(), rec.LastPenaltyAt.Unix())
	})

	t.Run("fractional second rounds up", func(t *testing.T) {
		clock := newFakeClock()
		clock.Advance(100 * time.Millisecond)
		store := newStore(t, clock)
		t.Cleanup(func() { _ = store.Delete(ctx, 12, space) })

		want := clock.Now().Truncate(time.Second).Add(time.Second).Unix()
		created, err := store.Create(ctx, 12, space)
		require.NoError(t, err)
		assert.Equal(t, want, created.LastPenaltyAt.Unix())

		rec, err := store.Get(ctx, 12, space)
		require.NoError(t, err)
		assert.Equal(t, want, rec.LastPenaltyAt.Unix())
		assert.False(t, rec.LastPenaltyAt.Before(clock.Now()), "метка не раньше реального времени")

		clock.Advance(time.Second)
		rec, err = store.Increment(ctx, 12, space)
		require.NoError(t, err)
		assert.Equal(t, want+1, rec.LastPenaltyAt.Unix())
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := newStore(t, newFakeClock())

		_, err := store.Create(ctx, 5, space)
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, 5, space))
		require.NoError(t, store.Delete(ctx, 5, space))

		rec, err := store.Get(ctx, 5, space)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("counts are scoped per space", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		t.Cleanup(func() {
			_ = store.Delete(ctx, 6, space)
			_ = store.Delete(ctx, 6, space+1)
		})

		_, err := store.Create(ctx, 6, space)
		require.NoError(t, err)
		_, err = store.Increment(ctx, 6, space)
		require.NoError(t, err)
		_, err = store.Create(ctx, 6, space+1)
		require.NoError(t, err)

		rec, err := store.Get(ctx, 6, space+1)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.OffenseCount)
	})

	t.Run("active list and release marker", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		s := space + 100
		t.Cleanup(func() {
			for _, u := range []int64{7, 8, 9} {
				_ = store.Delete(ctx, u, s)
			}
		})

		_, err := store.Create(ctx, 7, s)
		require.NoError(t, err)
		_, err = store.Create(ctx, 8, s)
		require.NoError(t, err)
		// Пользователь 9 дошёл до постоянного уровня
		_, err = store.Create(ctx, 9, s)
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			_, err = store.Increment(ctx, 9, s)
			require.NoError(t, err)
		}

		active, err := store.ListActivePunished(ctx, s, 4)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{7, 8}, userIDs(active))

		spaces, err := store.ListSpaces(ctx)
		require.NoError(t, err)
		assert.Contains(t, spaces, s)

		// Счётчик не совпал — не помечаем
		ok, err := store.MarkReleased(ctx, 7, s, 2, clock.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.MarkReleased(ctx, 7, s, 1, clock.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.MarkReleased(ctx, 7, s, 1, clock.Now())
		require.NoError(t, err)
		assert.False(t, ok, "второй раз уже освобождён")

		rec, err := store.Get(ctx, 7, s)
		require.NoError(t, err)
		require.NotNil(t, rec.ReleasedAt)
		assert.Equal(t, 1, rec.OffenseCount, "освобождение не трогает историю")

		active, err = store.ListActivePunished(ctx, s, 4)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{8}, userIDs(active))

		// Новое нарушение снова делает запись активной
		rec, err = store.Increment(ctx, 7, s)
		require.NoError(t, err)
		assert.Nil(t, rec.ReleasedAt)

		active, err = store.ListActivePunished(ctx, s, 4)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{7, 8}, userIDs(active))
	})

	t.Run("released spaces drop out of the scan list", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		s := space + 200
		t.Cleanup(func() { _ = store.Delete(ctx, 10, s) })

		_, err := store.Create(ctx, 10, s)
		require.NoError(t, err)
		ok, err := store.MarkReleased(ctx, 10, s, 1, clock.Now())
		require.NoError(t, err)
		require.True(t, ok)

		spaces, err := store.ListSpaces(ctx)
		require.NoError(t, err)
		assert.NotContains(t, spaces, s)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		s := space + 300
		t.Cleanup(func() { _ = store.Delete(ctx, 11, s) })

		_, err := store.Create(ctx, 11, s)
		require.NoError(t, err)

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Increment(ctx, 11, s); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rec, err := store.Get(ctx, 11, s)
		require.NoError(t, err)
		assert.Equal(t, n+1, rec.OffenseCount)
	})
}

func userIDs(records []*offense.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.UserID)
	}
	return out
}
