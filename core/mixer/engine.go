// Package mixer 是双通道协作播放引擎：提交通道（EQ + 静音）与伴奏通道在总线混合，
// 负责缓冲等待、自动播放失败重试、漂移校正、电平表和已听统计。
package mixer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CollabFM/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// AnalyserSize 电平分析窗口
	AnalyserSize = 1024
	// MeterHighpassHz 总线电平表前置高通
	MeterHighpassHz = 200

	submissionBufferWait = 500 * time.Millisecond
	backingBufferWait    = 120 * time.Millisecond

	// postPlaySyncWindow 开始播放后的漂移校正窗口
	postPlaySyncWindow = 1500 * time.Millisecond
	// DefaultSyncWindow SynchronizePlayers 未指定窗口时使用
	DefaultSyncWindow = 3000 * time.Millisecond
	// DefaultDriftThreshold 允许的最大漂移（秒）
	DefaultDriftThreshold = 0.05
)

// Engine 协作播放引擎。所有方法并发安全；状态回调按修改顺序串行投递，
// 回调内部可以调用 GetState，但不应调用修改状态的方法。
type Engine struct {
	mu sync.Mutex
	// notifyMu 只在不持有 mu 时获取，持有者依次投递 pending 中的快照
	notifyMu sync.Mutex
	pending  []pendingState

	players    [2]Transport
	newContext ContextFactory
	frames     FrameScheduler
	clock      clock.Clock
	tracker    *Tracker
	log        *zap.Logger

	state           AudioState
	onState         func(AudioState)
	graph           *graph
	eqEnabled       bool
	submissionMuted bool
	driftThreshold  float64

	trackingEnabled bool
	isListened      func(trackID string) bool

	syncGen  uint64
	stopSync func()
	// playGen 每次有播放流程接管传输时递增，PreloadBacking 据此判断是否被打断
	playGen uint64

	meters meterSubscriptions
	closed bool
}

// Option 配置 Engine
type Option func(*Engine)

// WithClock 替换时钟，测试时使用 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFrameScheduler 替换周期任务调度
func WithFrameScheduler(f FrameScheduler) Option {
	return func(e *Engine) { e.frames = f }
}

// WithDriftThreshold 设置播放后自动同步使用的漂移阈值（秒）
func WithDriftThreshold(sec float64) Option {
	return func(e *Engine) {
		if sec > 0 {
			e.driftThreshold = sec
		}
	}
}

// WithTracker 使用外部创建的 Tracker
func WithTracker(t *Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// NewEngine 创建引擎。音频上下文在第一次 Unlock 时才通过 newContext 创建。
func NewEngine(p1, p2 Transport, newContext ContextFactory, opts ...Option) *Engine {
	e := &Engine{
		players:        [2]Transport{p1, p2},
		newContext:     newContext,
		state:          DefaultAudioState(),
		eqEnabled:      true,
		driftThreshold: DefaultDriftThreshold,
		log:            logger.Named("mixer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.frames == nil {
		e.frames = NewClockFrames(e.clock)
	}
	if e.tracker == nil {
		e.tracker = NewTracker(e.clock)
	}
	e.state.Player1.Source = p1.Source()
	e.state.Player2.Source = p2.Source()
	return e
}

// Tracker 返回引擎使用的已听统计
func (e *Engine) Tracker() *Tracker { return e.tracker }

// SetCallbacks 设置状态回调，并立即以当前状态调用一次
func (e *Engine) SetCallbacks(onState func(AudioState)) {
	e.update(func() { e.onState = onState })
}

// GetState 返回当前状态快照
func (e *Engine) GetState() AudioState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

type pendingState struct {
	cb   func(AudioState)
	snap AudioState
}

// update 在锁内执行 fn，然后把新快照交给回调
func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	e.emitLocked()
}

// emitLocked 必须持有 mu 调用，返回时 mu 已释放。
// 快照在 mu 内入队，入队顺序即修改顺序；返回前本次快照已经送达。
func (e *Engine) emitLocked() {
	if e.onState != nil {
		e.pending = append(e.pending, pendingState{cb: e.onState, snap: e.state})
	}
	e.mu.Unlock()
	e.flush()
}

// flush 按顺序投递排队的快照。回调执行期间不持有 mu。
func (e *Engine) flush() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.pending = nil
			e.mu.Unlock()
			return
		}
		p := e.pending[0]
		e.pending[0] = pendingState{}
		e.pending = e.pending[1:]
		e.mu.Unlock()
		p.cb(p.snap)
	}
}

func (e *Engine) transport(id PlayerID) Transport {
	switch id {
	case Player1:
		return e.players[0]
	case Player2:
		return e.players[1]
	}
	return nil
}

func (e *Engine) playerState(id PlayerID) *PlayerState {
	switch id {
	case Player1:
		return &e.state.Player1
	case Player2:
		return &e.state.Player2
	}
	return nil
}

// ========== 音频上下文 ==========

// Unlock 在用户手势中调用：按需创建音频图，并恢复被挂起的上下文。可重复调用。
func (e *Engine) Unlock(ctx context.Context) error {
	e.mu.Lock()
	g := e.graph
	if g == nil {
		var err error
		g, err = e.buildGraphLocked()
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("init audio graph: %w", err)
		}
	}
	e.mu.Unlock()

	return e.resumeContext(ctx, g)
}

func (e *Engine) resumeContext(ctx context.Context, g *graph) error {
	if g == nil || g.ctx.State() != ContextSuspended {
		return nil
	}
	if err := g.ctx.Resume(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Warn("[Mixer] 音频上下文恢复失败", logger.ErrorField(err))
	}
	return nil
}

func (e *Engine) buildGraphLocked() (*graph, error) {
	if e.newContext == nil {
		return nil, fmt.Errorf("no audio context factory")
	}
	ac, err := e.newContext()
	if err != nil {
		return nil, err
	}
	g, err := buildGraph(ac, e.players[0], e.players[1])
	if err != nil {
		return nil, err
	}
	g.applyLevels(e.state, e.submissionMuted)
	g.applyEq(e.state.Eq)
	g.routeEq(e.eqEnabled)
	e.graph = g
	e.log.Debug("[Mixer] 音频图已创建", logger.String("context_state", string(ac.State())))
	return g, nil
}

func (e *Engine) currentGraph() *graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph
}

// ========== 音源与参数 ==========

// LoadSource 为通道加载新音源。与当前音源相同时不做任何事。
// 加载 player1 时 player2 一并回到开头，让两路保持对齐。
func (e *Engine) LoadSource(id PlayerID, src string) {
	if e.transport(id) == nil {
		e.log.Warn("[Mixer] 未知通道", logger.Int("player", int(id)))
		return
	}
	e.update(func() { e.loadSourceLocked(id, src) })
}

func (e *Engine) loadSourceLocked(id PlayerID, src string) bool {
	t := e.transport(id)
	if t.Source() == src {
		return false
	}
	t.SetSource(src)
	t.Load()
	t.SetCurrentTime(0)

	p := e.playerState(id)
	p.Source = src
	p.CurrentTime = 0
	p.Duration = 0
	p.IsPlaying = false
	p.HasEnded = false
	p.Error = ""

	if id == Player1 {
		e.players[1].SetCurrentTime(0)
		e.state.Player2.CurrentTime = 0
	}
	return true
}

// SetVolume 设置通道音量，取值限制在 [0,1]
func (e *Engine) SetVolume(id PlayerID, v float64) {
	if e.transport(id) == nil {
		return
	}
	v = clamp01(v)
	e.update(func() {
		e.playerState(id).Volume = v
		if e.graph == nil {
			return
		}
		if id == Player1 {
			e.graph.gain1.SetGain(v)
		} else {
			e.graph.gain2.SetGain(v)
		}
	})
}

// SetMasterVolume 设置总线音量
func (e *Engine) SetMasterVolume(v float64) {
	v = clamp01(v)
	e.update(func() {
		e.state.Master.Volume = v
		if e.graph != nil {
			e.graph.master.SetGain(v)
		}
	})
}

// SetEq 合并局部 EQ 参数
func (e *Engine) SetEq(p EqPatch) {
	e.update(func() {
		e.state.Eq = e.state.Eq.merge(p)
		if e.graph != nil {
			e.graph.applyEq(e.state.Eq)
		}
	})
}

// SetEqEnabled 关闭时 gain1 直连 mute1，EQ 参数保留
func (e *Engine) SetEqEnabled(enabled bool) {
	e.update(func() {
		if e.eqEnabled == enabled {
			return
		}
		e.eqEnabled = enabled
		if e.graph != nil {
			e.graph.routeEq(enabled)
		}
	})
}

// EqEnabled 当前是否启用 EQ
func (e *Engine) EqEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eqEnabled
}

// SetSubmissionMuted 静音提交通道，伴奏不受影响
func (e *Engine) SetSubmissionMuted(muted bool) {
	e.update(func() {
		e.submissionMuted = muted
		if e.graph != nil {
			if muted {
				e.graph.mute1.SetGain(0)
			} else {
				e.graph.mute1.SetGain(1)
			}
		}
	})
}

// SetPlayingFavourite 标记当前是否在播放收藏列表
func (e *Engine) SetPlayingFavourite(v bool) {
	e.update(func() { e.state.PlayerController.PlayingFavourite = v })
}

// ========== 已听统计 ==========

// SetTrackListenedCallback 开启已听统计。ratio 为百分比；
// isListened 返回 true 的提交不再开始统计，可以为 nil。
func (e *Engine) SetTrackListenedCallback(cb func(trackID string), ratio float64, isListened func(trackID string) bool) {
	e.tracker.SetListenRatio(ratio)
	e.tracker.SetOnListened(cb)
	e.mu.Lock()
	e.trackingEnabled = cb != nil
	e.isListened = isListened
	e.mu.Unlock()
}

// ClearTrackListenedCallback 关闭已听统计并丢弃当前会话
func (e *Engine) ClearTrackListenedCallback() {
	e.mu.Lock()
	e.trackingEnabled = false
	e.isListened = nil
	e.mu.Unlock()
	e.tracker.SetOnListened(nil)
	e.tracker.StopTracking()
}

func (e *Engine) beginTracking(trackID string) {
	e.tracker.StopTracking()

	e.mu.Lock()
	enabled, isListened := e.trackingEnabled, e.isListened
	e.mu.Unlock()
	if !enabled {
		return
	}
	if isListened != nil && isListened(trackID) {
		return
	}
	e.tracker.StartTracking(trackID)
}

// ========== 传输层事件 ==========

// HandleTransportEvent 把传输层事件同步到状态。player1 的时间更新会推进已听统计。
func (e *Engine) HandleTransportEvent(id PlayerID, ev TransportEvent) {
	t := e.transport(id)
	if t == nil {
		return
	}
	var cur, dur float64
	e.update(func() {
		p := e.playerState(id)
		switch ev.Type {
		case EventTimeUpdate:
			p.CurrentTime = t.CurrentTime()
			if d := t.Duration(); d > 0 {
				p.Duration = d
			}
		case EventLoadedMetadata:
			p.Duration = t.Duration()
		case EventPlay:
			p.IsPlaying = true
			p.HasEnded = false
		case EventPause:
			p.IsPlaying = false
		case EventEnded:
			p.IsPlaying = false
			p.HasEnded = true
		case EventError:
			p.IsPlaying = false
			if ev.Err != nil {
				p.Error = ev.Err.Error()
			} else {
				p.Error = "playback error"
			}
		}
		cur, dur = p.CurrentTime, p.Duration
	})

	if ev.Type == EventError {
		e.log.Warn("[Mixer] 播放出错", logger.String("player", id.String()), logger.ErrorField(ev.Err))
	}
	if id == Player1 && ev.Type == EventTimeUpdate {
		e.tracker.UpdateProgress(cur, dur)
	}
}

// Close 停止同步和电平任务，清空订阅
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.stopSyncLocked()
	e.meters.reset()
	e.tracker.StopTracking()
}
