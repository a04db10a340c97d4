package offense_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wenbot/internal/common"
	"wenbot/internal/features/offense"
)

const testSpace int64 = -100123

func newTestService(t *testing.T) (*offense.Service, offense.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := newSQLiteStore(t, clock)
	return offense.NewService(store, offense.DefaultPolicy(), false), store, clock
}

func wenFrom(userID int64) offense.Message {
	return offense.Message{Text: "wen", AuthorID: userID, AuthorName: "degen", SpaceID: testSpace}
}

func TestOnMessageIgnoresCleanAndExempt(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	p, err := svc.OnMessage(ctx, offense.Message{Text: "gm", AuthorID: 1, SpaceID: testSpace})
	require.NoError(t, err)
	assert.Nil(t, p)

	msg := wenFrom(1)
	msg.AuthorIsExempt = true
	p, err = svc.OnMessage(ctx, msg)
	require.NoError(t, err)
	assert.Nil(t, p)

	rec, err := store.Get(ctx, 1, testSpace)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFirstOffenseThenRelease(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	start := clock.Now()

	p, err := svc.OnMessage(ctx, wenFrom(1))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.OffenseCount)
	assert.Equal(t, offense.Penalty{Duration: 300 * time.Second}, p.Penalty)
	assert.Equal(t, "wen = ban. degen muted for 5 minutes.", p.Notice)

	releases, err := svc.OnTick(ctx, testSpace, start.Add(299*time.Second))
	require.NoError(t, err)
	assert.Empty(t, releases)

	releases, err = svc.OnTick(ctx, testSpace, start.Add(301*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []offense.Release{{UserID: 1, SpaceID: testSpace}}, releases)

	rec, err := store.Get(ctx, 1, testSpace)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.OffenseCount)

	// Уже освобождён — следующий тик его не трогает
	releases, err = svc.OnTick(ctx, testSpace, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestReleaseNeverFiresEarlyOnFractionalSeconds(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	clock.Advance(900 * time.Millisecond)
	offendedAt := clock.Now()

	_, err := svc.OnMessage(ctx, wenFrom(1))
	require.NoError(t, err)

	// Ровно 300 с от нарушения, но метка в базе округлена вверх
	releases, err := svc.OnTick(ctx, testSpace, offendedAt.Add(300*time.Second-time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, releases)

	releases, err = svc.OnTick(ctx, testSpace, offendedAt.Add(300*time.Second+100*time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, releases, 1)
}

func TestEscalationToPermanent(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	p, err := svc.OnMessage(ctx, wenFrom(1))
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, p.Penalty.Duration)

	for count := 2; count <= 4; count++ {
		clock.Advance(time.Minute)
		p, err = svc.OnMessage(ctx, wenFrom(1))
		require.NoError(t, err)
		assert.Equal(t, count, p.OffenseCount)
		assert.Equal(t, offense.Penalty{Duration: time.Hour}, p.Penalty)
		assert.Equal(t, "wen = ban. degen muted for 60 minutes.", p.Notice)
	}

	clock.Advance(time.Minute)
	p, err = svc.OnMessage(ctx, wenFrom(1))
	require.NoError(t, err)
	assert.Equal(t, 5, p.OffenseCount)
	assert.True(t, p.Penalty.Permanent)
	assert.Equal(t, "wen = ban. degen muted forever.", p.Notice)

	for _, later := range []time.Duration{time.Hour, 24 * time.Hour, 365 * 24 * time.Hour} {
		releases, err := svc.OnTick(ctx, testSpace, clock.Now().Add(later))
		require.NoError(t, err)
		assert.Empty(t, releases)
	}
}

func TestAmnestyResetsHistory(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.OnMessage(ctx, wenFrom(1))
		require.NoError(t, err)
	}

	releases, err := svc.OnAmnesty(ctx, testSpace, []offense.Member{{ID: 1, Name: "degen"}, {ID: 1, Name: "degen"}})
	require.NoError(t, err)
	assert.Equal(t, []offense.Release{{UserID: 1, SpaceID: testSpace}}, releases)

	rec, err := store.Get(ctx, 1, testSpace)
	require.NoError(t, err)
	assert.Nil(t, rec)

	p, err := svc.OnMessage(ctx, wenFrom(1))
	require.NoError(t, err)
	assert.Equal(t, 1, p.OffenseCount)
	assert.Equal(t, 300*time.Second, p.Penalty.Duration)
}

func TestAmnestyForUserWithoutRecord(t *testing.T) {
	svc, _, _ := newTestService(t)

	releases, err := svc.OnAmnesty(context.Background(), testSpace, []offense.Member{{ID: 9}})
	require.NoError(t, err)
	assert.Len(t, releases, 1)

	releases, err = svc.OnAmnesty(context.Background(), testSpace, nil)
	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestManualPunishBypassesDetection(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.OnMessage(ctx, wenFrom(2))
	require.NoError(t, err)

	ps, err := svc.OnManualPunish(ctx, testSpace, []offense.Member{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, 1, ps[0].OffenseCount)
	assert.Equal(t, "wen = ban. alice muted for 5 minutes.", ps[0].Notice)
	assert.Equal(t, 2, ps[1].OffenseCount)
	assert.Equal(t, time.Hour, ps[1].Penalty.Duration)
}

func TestConcurrentViolationsAreAllCounted(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OnMessage(ctx, wenFrom(7))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, 7, testSpace)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, n, rec.OffenseCount)
}

func TestGlobalScopeSharesCountAcrossChats(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newSQLiteStore(t, clock)
	svc := offense.NewService(store, offense.DefaultPolicy(), true)

	msg := wenFrom(1)
	_, err := svc.OnMessage(ctx, msg)
	require.NoError(t, err)

	msg.SpaceID = testSpace - 1
	p, err := svc.OnMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 2, p.OffenseCount)
	// Наказываем там, где нарушили
	assert.Equal(t, testSpace-1, p.SpaceID)

	rec, err := store.Get(ctx, 1, offense.GlobalSpace)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.OffenseCount)

	spaces, err := svc.Spaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{offense.GlobalSpace}, spaces)
}

// failingStore отдаёт ошибку хранилища на любую операцию.
type failingStore struct{ offense.Store }

var errDisk = errors.New("disk I/O error")

func (failingStore) Get(context.Context, int64, int64) (*offense.Record, error) {
	return nil, errors.Join(common.ErrStorageUnavailable, errDisk)
}

func (failingStore) Delete(context.Context, int64, int64) error {
	return errors.Join(common.ErrStorageUnavailable, errDisk)
}

func (failingStore) ListActivePunished(context.Context, int64, int) ([]*offense.Record, error) {
	return nil, errors.Join(common.ErrStorageUnavailable, errDisk)
}

func TestStoreFailureProducesNoAction(t *testing.T) {
	ctx := context.Background()
	svc := offense.NewService(failingStore{}, offense.DefaultPolicy(), false)

	p, err := svc.OnMessage(ctx, wenFrom(1))
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Nil(t, p)

	ps, err := svc.OnManualPunish(ctx, testSpace, []offense.Member{{ID: 1}})
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Empty(t, ps)

	releases, err := svc.OnAmnesty(ctx, testSpace, []offense.Member{{ID: 1}})
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Empty(t, releases)

	releases, err = svc.OnTick(ctx, testSpace, time.Now())
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Empty(t, releases)
}

func TestNotices(t *testing.T) {
	assert.Equal(t, "wen = ban. bob muted forever.", offense.PunishNotice("bob", offense.Penalty{Permanent: true}))
	assert.Equal(t, "wen = ban. bob muted for 1 minute.", offense.PunishNotice("bob", offense.Penalty{Duration: 119 * time.Second}))

	assert.Equal(t, "", offense.AmnestyNotice(nil))
	assert.Equal(t, "alice was granted amnesty.", offense.AmnestyNotice([]string{"alice"}))
	assert.Equal(t, "alice bob were granted amnesty.", offense.AmnestyNotice([]string{"alice", "bob"}))
}
