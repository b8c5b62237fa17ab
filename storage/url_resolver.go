package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"CollabFM/logger"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

// Presigner 生成对象的临时下载地址，*minio.Client 即满足
type Presigner interface {
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type cachedURL struct {
	url       string
	expiresAt time.Time
}

// URLResolver 把存储路径解析为预签名地址。结果缓存到过期前的 1/10 TTL，
// 同一路径的并发请求只签名一次。
type URLResolver struct {
	presigner Presigner
	bucket    string
	ttl       time.Duration
	clock     clock.Clock

	mu      sync.Mutex
	entries map[string]cachedURL
	group   singleflight.Group
}

// NewURLResolver 创建解析器，clk 为 nil 时使用系统时钟
func NewURLResolver(p Presigner, bucket string, ttl time.Duration, clk clock.Clock) *URLResolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	return &URLResolver{
		presigner: p,
		bucket:    bucket,
		ttl:       ttl,
		clock:     clk,
		entries:   make(map[string]cachedURL),
	}
}

// Resolve 返回 path 的可访问地址。空路径返回空串；已经是 http(s) 地址的原样返回。
func (r *URLResolver) Resolve(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	object := strings.TrimPrefix(path, "/")

	now := r.clock.Now()
	r.mu.Lock()
	if e, ok := r.entries[object]; ok {
		if now.Before(e.expiresAt) {
			r.mu.Unlock()
			return e.url, nil
		}
		// 过期项读到即删，重新签名失败时也不会残留
		delete(r.entries, object)
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(object, func() (interface{}, error) {
		u, err := r.presigner.PresignedGetObject(ctx, r.bucket, object, r.ttl, nil)
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", object, err)
		}
		s := u.String()
		r.mu.Lock()
		r.entries[object] = cachedURL{url: s, expiresAt: r.clock.Now().Add(r.ttl - r.ttl/10)}
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Purge 清除已过期的缓存项，返回清除数量
func (r *URLResolver) Purge() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

// Len 当前缓存项数量
func (r *URLResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PurgeLoop 每隔 interval 清理一次过期项，直到 ctx 结束
func (r *URLResolver) PurgeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl
	}
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Purge(); n > 0 {
				logger.Debug("[Storage] 清理过期签名地址", logger.Int("count", n))
			}
		}
	}
}
