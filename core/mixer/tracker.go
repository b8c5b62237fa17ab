package mixer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultListenRatio 默认在播放到 80% 时记为已听
const DefaultListenRatio = 80

// Tracker 记录当前提交的连续播放时长，并在播放位置达到时长的 listenRatio%
// 时触发一次 listened 回调。完成判断只看传输层报告的位置，拖到结尾会立即触发；
// 累计时长仅用于诊断。
type Tracker struct {
	mu          sync.Mutex
	clock       clock.Clock
	listenRatio float64
	onListened  func(trackID string)
	session     *listenSession
}

type listenSession struct {
	track      string
	startTime  time.Time
	total      time.Duration
	continuous bool
}

// NewTracker 创建 Tracker，clk 为 nil 时使用系统时钟
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clock: clk, listenRatio: DefaultListenRatio}
}

// SetListenRatio 设置完成阈值（百分比），对之后的进度检查生效
func (t *Tracker) SetListenRatio(ratio float64) {
	t.mu.Lock()
	t.listenRatio = ratio
	t.mu.Unlock()
}

// SetOnListened 设置完成回调，nil 表示不通知
func (t *Tracker) SetOnListened(fn func(trackID string)) {
	t.mu.Lock()
	t.onListened = fn
	t.mu.Unlock()
}

// StartTracking 为 trackID 开始新会话，累计时长清零
func (t *Tracker) StartTracking(trackID string) {
	t.mu.Lock()
	t.session = &listenSession{
		track:      trackID,
		startTime:  t.clock.Now(),
		continuous: true,
	}
	t.mu.Unlock()
}

// PauseTracking 把上次开始/恢复以来的时长累加进总时长，会话保留
func (t *Tracker) PauseTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.session; s != nil && s.continuous {
		s.total += t.clock.Since(s.startTime)
		s.continuous = false
	}
}

// ResumeTracking 把计时起点重置为现在，不影响已累计的时长
func (t *Tracker) ResumeTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.session; s != nil {
		s.startTime = t.clock.Now()
		s.continuous = true
	}
}

// StopTracking 丢弃会话，不触发回调
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	t.session = nil
	t.mu.Unlock()
}

// UpdateProgress 根据播放位置检查是否达到阈值。达到时触发回调并结束会话。
func (t *Tracker) UpdateProgress(currentTime, duration float64) {
	t.mu.Lock()
	s := t.session
	if s == nil || !s.continuous || duration <= 0 {
		t.mu.Unlock()
		return
	}
	if currentTime/duration*100 < t.listenRatio {
		t.mu.Unlock()
		return
	}
	fn := t.onListened
	t.session = nil
	t.mu.Unlock()

	if fn != nil {
		fn(s.track)
	}
}

// Active 是否存在会话
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

// CurrentTrack 当前会话的 track，没有会话时为空
func (t *Tracker) CurrentTrack() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ""
	}
	return t.session.track
}

// TotalPlayTime 已累计时长，包含正在进行的一段
func (t *Tracker) TotalPlayTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.session
	if s == nil {
		return 0
	}
	total := s.total
	if s.continuous {
		total += t.clock.Since(s.startTime)
	}
	return total
}
