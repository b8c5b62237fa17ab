package softaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"CollabFM/core/mixer"
)

// Loader 按地址返回单声道 PCM
type Loader func(src string) ([]float32, error)

// Library 内存中的音源表，可直接作为 Loader
type Library map[string][]float32

func (l Library) Load(src string) ([]float32, error) {
	pcm, ok := l[src]
	if !ok {
		return nil, fmt.Errorf("softaudio: unknown source %q", src)
	}
	return pcm, nil
}

// BufferTransport 实现 mixer.Transport，播放位置随 Context.Render 推进
type BufferTransport struct {
	mu         sync.Mutex
	sampleRate float64
	load       Loader

	src     string
	pcm     []float32
	loadErr error
	ready   chan struct{}

	pos    int
	paused bool
	ended  bool
	muted  bool

	// DenyPlays 大于 0 时 Play 返回 ErrPlaybackDenied 并递减
	DenyPlays int
}

func NewBufferTransport(sampleRate float64, load Loader) *BufferTransport {
	return &BufferTransport{
		sampleRate: sampleRate,
		load:       load,
		paused:     true,
		ready:      make(chan struct{}),
	}
}

func (t *BufferTransport) Source() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.src
}

func (t *BufferTransport) SetSource(src string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.src = src
	t.pcm = nil
	t.loadErr = nil
	t.ready = make(chan struct{})
	t.pos = 0
	t.paused = true
	t.ended = false
}

// Load 同步解码；失败时 WaitCanPlay 返回该错误
func (t *BufferTransport) Load() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.ready:
		return
	default:
	}
	if t.src == "" {
		t.loadErr = errors.New("softaudio: empty source")
	} else {
		t.pcm, t.loadErr = t.load(t.src)
	}
	close(t.ready)
}

func (t *BufferTransport) CurrentTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / t.sampleRate
}

func (t *BufferTransport) SetCurrentTime(sec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := int(sec * t.sampleRate)
	if pos < 0 {
		pos = 0
	}
	if pos > len(t.pcm) && t.pcm != nil {
		pos = len(t.pcm)
	}
	t.pos = pos
	t.ended = t.pcm != nil && pos >= len(t.pcm)
}

func (t *BufferTransport) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(len(t.pcm)) / t.sampleRate
}

func (t *BufferTransport) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *BufferTransport) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *BufferTransport) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DenyPlays > 0 {
		t.DenyPlays--
		return mixer.ErrPlaybackDenied
	}
	if t.loadErr != nil {
		return t.loadErr
	}
	if t.pcm == nil {
		return errors.New("softaudio: source not loaded")
	}
	if t.ended {
		t.pos = 0
		t.ended = false
	}
	t.paused = false
	return nil
}

func (t *BufferTransport) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

func (t *BufferTransport) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *BufferTransport) SetMuted(m bool) {
	t.mu.Lock()
	t.muted = m
	t.mu.Unlock()
}

func (t *BufferTransport) WaitCanPlay(ctx context.Context) error {
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()

	select {
	case <-ready:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// read 填充一个 quantum，由 sourceNode 在渲染时调用
func (t *BufferTransport) read(out []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range out {
		out[i] = 0
	}
	if t.paused || t.ended {
		return
	}
	n := copy(out, t.pcm[t.pos:])
	t.pos += n
	if t.muted {
		for i := 0; i < n; i++ {
			out[i] = 0
		}
	}
	if t.pos >= len(t.pcm) {
		t.ended = true
		t.paused = true
	}
}
