package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(0)
	key := Key{ChatID: 10, UserID: 20}

	_, err := st.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNoSession)

	s := New("plan")
	s.State = "await_text"
	s.SetInt64("object_id", 42)
	s.SetFloat("hours", 7.5)
	require.NoError(t, st.Save(ctx, key, s))

	got, err := st.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "plan", got.Flow)
	assert.Equal(t, "await_text", got.State)
	assert.Equal(t, int64(42), got.Int64("object_id"))
	assert.Equal(t, 7.5, got.Float("hours"))

	// изменения копии не попадают в хранилище без Save
	got.State = "changed"
	again, err := st.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "await_text", again.State)

	require.NoError(t, st.Delete(ctx, key))
	assert.Equal(t, 0, st.Len())
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	key := Key{ChatID: 1, UserID: 1}
	require.NoError(t, st.Save(ctx, key, New("report")))

	now = now.Add(30 * time.Second)
	_, err := st.Load(ctx, key)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = st.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, st.Len())
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(0)
	require.NoError(t, st.Save(ctx, Key{ChatID: 1, UserID: 1}, New("plan")))
	require.NoError(t, st.Save(ctx, Key{ChatID: 1, UserID: 2}, New("report")))

	a, err := st.Load(ctx, Key{ChatID: 1, UserID: 1})
	require.NoError(t, err)
	b, err := st.Load(ctx, Key{ChatID: 1, UserID: 2})
	require.NoError(t, err)
	assert.Equal(t, "plan", a.Flow)
	assert.Equal(t, "report", b.Flow)
	assert.Equal(t, "1:2", Key{ChatID: 1, UserID: 2}.String())
}

func TestLanesKeepOrderPerKey(t *testing.T) {
	l := NewLanes()
	key := Key{ChatID: 1, UserID: 1}

	var mu sync.Mutex
	var seen []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Submit(key, func() {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		}))
	}
	l.Close()

	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
	assert.False(t, l.Submit(key, func() {}), "после Close задачи не принимаются")
	assert.Equal(t, 0, l.Active())
}

func TestLanesRunKeysInParallel(t *testing.T) {
	l := NewLanes()
	release := make(chan struct{})
	done := make(chan struct{})

	l.Submit(Key{ChatID: 1, UserID: 1}, func() { <-release })
	l.Submit(Key{ChatID: 2, UserID: 2}, func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("задача другого ключа заблокирована")
	}
	close(release)
	l.Close()
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	st := NewRedisStore(client, time.Minute)
	require.NoError(t, st.Ping(ctx))
	key := Key{ChatID: time.Now().UnixNano(), UserID: 1}

	s := New("timesheet")
	s.Set("worker", "Бригада (3 чел)")
	require.NoError(t, st.Save(ctx, key, s))

	got, err := st.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Бригада (3 чел)", got.Get("worker"))

	require.NoError(t, st.Delete(ctx, key))
	_, err = st.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNoSession)
}
