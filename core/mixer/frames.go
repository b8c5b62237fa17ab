package mixer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FrameInterval 约等于 60Hz 刷新率
const FrameInterval = 16 * time.Millisecond

// FrameScheduler 周期任务。cancel 可重复调用、不阻塞，可在 fn 内部调用。
type FrameScheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

type clockFrames struct {
	clock clock.Clock
}

// NewClockFrames 基于时钟 Ticker 的 FrameScheduler，每个任务一个 goroutine
func NewClockFrames(c clock.Clock) FrameScheduler {
	if c == nil {
		c = clock.New()
	}
	return clockFrames{clock: c}
}

func (f clockFrames) Every(interval time.Duration, fn func()) func() {
	ticker := f.clock.Ticker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
