package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakePresigner) PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, _ url.Values) (*url.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[object]++
	return url.Parse(fmt.Sprintf("https://s3.local/%s/%s?sig=%d&ttl=%d", bucket, object, f.calls[object], int(expires.Seconds())))
}

func (f *fakePresigner) count(object string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[object]
}

func TestResolveCachesUntilNearExpiry(t *testing.T) {
	mock := clock.NewMock()
	p := &fakePresigner{}
	r := NewURLResolver(p, "collabfm", 10*time.Minute, mock)
	ctx := context.Background()

	u1, err := r.Resolve(ctx, "/uploads/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/collabfm/uploads/a.mp3?sig=1&ttl=600", u1)

	mock.Add(8 * time.Minute)
	u2, err := r.Resolve(ctx, "uploads/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, u1, u2)
	assert.Equal(t, 1, p.count("uploads/a.mp3"))

	// 9 分钟后进入提前刷新区间
	mock.Add(time.Minute)
	u3, err := r.Resolve(ctx, "uploads/a.mp3")
	require.NoError(t, err)
	assert.NotEqual(t, u1, u3)
	assert.Equal(t, 2, p.count("uploads/a.mp3"))
}

func TestResolvePassthrough(t *testing.T) {
	p := &fakePresigner{}
	r := NewURLResolver(p, "b", time.Hour, clock.NewMock())

	s, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = r.Resolve(context.Background(), "https://cdn.example.com/x.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.mp3", s)
	assert.Empty(t, p.calls)
}

func TestResolveErrorNotCached(t *testing.T) {
	p := &fakePresigner{err: errors.New("minio down")}
	r := NewURLResolver(p, "b", time.Hour, clock.NewMock())

	_, err := r.Resolve(context.Background(), "a.mp3")
	assert.ErrorContains(t, err, "minio down")

	p.err = nil
	s, err := r.Resolve(context.Background(), "a.mp3")
	require.NoError(t, err)
	assert.Contains(t, s, "a.mp3")
}

func TestPurge(t *testing.T) {
	mock := clock.NewMock()
	r := NewURLResolver(&fakePresigner{}, "b", time.Hour, mock)
	ctx := context.Background()
	_, _ = r.Resolve(ctx, "a.mp3")
	mock.Add(30 * time.Minute)
	_, _ = r.Resolve(ctx, "b.mp3")

	mock.Add(30 * time.Minute)
	assert.Equal(t, 1, r.Purge())
	assert.Equal(t, 0, r.Purge())
}

func TestExpiredEntryDroppedOnRead(t *testing.T) {
	mock := clock.NewMock()
	p := &fakePresigner{}
	r := NewURLResolver(p, "b", time.Hour, mock)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "a.mp3")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	mock.Add(time.Hour)
	p.err = errors.New("minio down")
	_, err = r.Resolve(ctx, "a.mp3")
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestPurgeLoopBoundsCache(t *testing.T) {
	mock := clock.NewMock()
	r := NewURLResolver(&fakePresigner{}, "b", time.Hour, mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 50; i++ {
		_, err := r.Resolve(ctx, fmt.Sprintf("uploads/%d.mp3", i))
		require.NoError(t, err)
	}
	require.Equal(t, 50, r.Len())

	done := make(chan struct{})
	go func() {
		r.PurgeLoop(ctx, 10*time.Minute)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mock.Add(10 * time.Minute)
		return r.Len() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PurgeLoop did not stop")
	}
}

func TestResolveConcurrent(t *testing.T) {
	p := &fakePresigner{}
	r := NewURLResolver(p, "b", time.Hour, clock.NewMock())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "a.mp3")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.count("a.mp3"), 20)
	assert.GreaterOrEqual(t, p.count("a.mp3"), 1)
}
