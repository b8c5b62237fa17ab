package mixer

import (
	"math"
	"time"

	"CollabFM/logger"
)

// SynchronizePlayers 在 window 内每帧检查两路位置，漂移超过 threshold 秒时
// 把落后的一路拉到领先的位置。新的调用会取代正在运行的同步。
func (e *Engine) SynchronizePlayers(window time.Duration, threshold float64) {
	if window <= 0 {
		window = DefaultSyncWindow
	}
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.stopSyncLocked()
	e.syncGen++
	gen := e.syncGen
	deadline := e.clock.Now().Add(window)
	e.stopSync = e.frames.Every(FrameInterval, func() { e.syncTick(gen, deadline, threshold) })
}

// StopSync 停止漂移校正
func (e *Engine) StopSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSyncLocked()
}

func (e *Engine) stopSyncLocked() {
	if e.stopSync != nil {
		e.stopSync()
		e.stopSync = nil
	}
	// 已经排队的旧 tick 看到世代变化后直接返回
	e.syncGen++
}

func (e *Engine) syncTick(gen uint64, deadline time.Time, threshold float64) {
	e.mu.Lock()
	if gen != e.syncGen {
		e.mu.Unlock()
		return
	}
	if !e.clock.Now().Before(deadline) {
		e.stopSyncLocked()
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.correctDrift(threshold)
}

// correctDrift 两路都在播放且漂移超过阈值时对齐，返回是否做了调整。
// 没有调整时不发出状态快照。
func (e *Engine) correctDrift(threshold float64) bool {
	e.mu.Lock()
	p1, p2 := e.players[0], e.players[1]
	if p1.Paused() || p2.Paused() {
		e.mu.Unlock()
		return false
	}
	t1, t2 := p1.CurrentTime(), p2.CurrentTime()
	drift := t1 - t2
	if math.Abs(drift) <= threshold {
		e.mu.Unlock()
		return false
	}
	if t1 > t2 {
		p2.SetCurrentTime(t1)
	} else {
		p1.SetCurrentTime(t2)
	}
	pos := math.Max(t1, t2)
	e.state.Player1.CurrentTime = pos
	e.state.Player2.CurrentTime = pos
	e.emitLocked()

	e.log.Debug("[Mixer] 校正漂移", logger.Float64("drift", drift))
	return true
}
