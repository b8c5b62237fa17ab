package mixer

import (
	"context"
	"sync"
	"time"
)

type fakeTransport struct {
	mu sync.Mutex

	src      string
	loads    int
	cur, dur float64
	paused   bool
	muted    bool

	denyPlays     int
	playErr       error
	playCalls     int
	advanceOnPlay float64
	mutedOnPlay   []bool
	// onPlay 在成功开始播放后调用（不持有 f.mu）
	onPlay func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{paused: true}
}

func (f *fakeTransport) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src
}

func (f *fakeTransport) SetSource(src string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = src
	f.paused = true
}

func (f *fakeTransport) Load() {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
}

func (f *fakeTransport) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeTransport) SetCurrentTime(sec float64) {
	f.mu.Lock()
	f.cur = sec
	f.mu.Unlock()
}

func (f *fakeTransport) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dur
}

func (f *fakeTransport) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeTransport) Ended() bool { return false }

func (f *fakeTransport) Play(ctx context.Context) error {
	f.mu.Lock()
	f.playCalls++
	f.mutedOnPlay = append(f.mutedOnPlay, f.muted)
	if f.denyPlays > 0 {
		f.denyPlays--
		f.mu.Unlock()
		return ErrPlaybackDenied
	}
	if f.playErr != nil {
		err := f.playErr
		f.mu.Unlock()
		return err
	}
	f.paused = false
	f.cur += f.advanceOnPlay
	hook := f.onPlay
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeTransport) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeTransport) Muted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeTransport) SetMuted(m bool) {
	f.mu.Lock()
	f.muted = m
	f.mu.Unlock()
}

func (f *fakeTransport) WaitCanPlay(ctx context.Context) error { return nil }

func (f *fakeTransport) set(cur float64, playing bool) {
	f.mu.Lock()
	f.cur = cur
	f.paused = !playing
	f.mu.Unlock()
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playCalls
}

// fakeNode 同时实现所有节点接口
type fakeNode struct {
	kind    string
	gain    float64
	freq, q float64
	outs    []*fakeNode
	samples []float32
}

func (n *fakeNode) Connect(dst AudioNode) { n.outs = append(n.outs, dst.(*fakeNode)) }
func (n *fakeNode) Disconnect()           { n.outs = nil }
func (n *fakeNode) SetGain(v float64)     { n.gain = v }
func (n *fakeNode) SetFrequency(v float64) {
	n.freq = v
}
func (n *fakeNode) SetQ(v float64) { n.q = v }
func (n *fakeNode) FFTSize() int   { return AnalyserSize }
func (n *fakeNode) FloatTimeDomainData(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, n.samples)
}

type fakeContext struct {
	state       ContextState
	resumeCalls int
	dest        *fakeNode
	analysers   []*fakeNode
}

func newFakeContext() *fakeContext {
	return &fakeContext{state: ContextSuspended, dest: &fakeNode{kind: "destination"}}
}

func (c *fakeContext) State() ContextState { return c.state }

func (c *fakeContext) Resume(ctx context.Context) error {
	c.resumeCalls++
	c.state = ContextRunning
	return nil
}

func (c *fakeContext) CreateGain() GainNode { return &fakeNode{kind: "gain", gain: 1} }

func (c *fakeContext) CreateBiquadFilter(t FilterType) BiquadFilterNode {
	return &fakeNode{kind: string(t)}
}

func (c *fakeContext) CreateAnalyser(size int) AnalyserNode {
	n := &fakeNode{kind: "analyser"}
	c.analysers = append(c.analysers, n)
	return n
}

func (c *fakeContext) CreateMediaElementSource(t Transport) (AudioNode, error) {
	return &fakeNode{kind: "source"}, nil
}

func (c *fakeContext) Destination() AudioNode { return c.dest }

// manualFrames 由测试手动推进的 FrameScheduler
type manualFrames struct {
	mu    sync.Mutex
	next  int
	tasks map[int]func()
}

func newManualFrames() *manualFrames {
	return &manualFrames{tasks: make(map[int]func())}
}

func (m *manualFrames) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.tasks[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
	}
}

func (m *manualFrames) Tick() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.tasks))
	for _, fn := range m.tasks {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *manualFrames) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
