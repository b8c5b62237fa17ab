// Package softaudio 是 mixer 音频图的纯 Go 实现：单声道、按 quantum 拉取渲染，
// 用于无浏览器环境下的离线混音和电平测量。
package softaudio

import (
	"context"
	"errors"
	"sync"

	"CollabFM/core/mixer"
)

// Quantum 每次渲染的采样数
const Quantum = 128

// Context 实现 mixer.AudioContext。所有节点共享 Context 的锁。
type Context struct {
	mu         sync.Mutex
	sampleRate float64
	state      mixer.ContextState
	quantum    int64

	dest      *node
	analysers []*analyserNode
	sources   map[mixer.Transport]bool
}

// NewContext 创建处于 suspended 状态的上下文
func NewContext(sampleRate float64) *Context {
	c := &Context{
		sampleRate: sampleRate,
		state:      mixer.ContextSuspended,
		sources:    make(map[mixer.Transport]bool),
	}
	c.dest = c.newNode(sumInputs)
	return c
}

// Factory 返回每次都创建新 Context 的 mixer.ContextFactory，created 接收新建的实例
func Factory(sampleRate float64, created func(*Context)) mixer.ContextFactory {
	return func() (mixer.AudioContext, error) {
		c := NewContext(sampleRate)
		if created != nil {
			created(c)
		}
		return c, nil
	}
}

func (c *Context) SampleRate() float64 { return c.sampleRate }

func (c *Context) State() mixer.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == mixer.ContextClosed {
		return errors.New("softaudio: context closed")
	}
	c.state = mixer.ContextRunning
	return nil
}

// Suspend 挂起上下文，Render 输出静音
func (c *Context) Suspend() {
	c.mu.Lock()
	if c.state != mixer.ContextClosed {
		c.state = mixer.ContextSuspended
	}
	c.mu.Unlock()
}

func (c *Context) Close() {
	c.mu.Lock()
	c.state = mixer.ContextClosed
	c.mu.Unlock()
}

func (c *Context) CreateGain() mixer.GainNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := &gainNode{gain: 1}
	g.node = c.newNode(g.process)
	return g
}

func (c *Context) CreateBiquadFilter(t mixer.FilterType) mixer.BiquadFilterNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := newBiquad(t, c.sampleRate)
	b.node = c.newNode(b.process)
	return b
}

func (c *Context) CreateAnalyser(fftSize int) mixer.AnalyserNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fftSize <= 0 {
		fftSize = mixer.AnalyserSize
	}
	a := &analyserNode{ring: make([]float32, fftSize)}
	a.node = c.newNode(a.process)
	c.analysers = append(c.analysers, a)
	return a
}

// CreateMediaElementSource 每个 Transport 只能接入一次
func (c *Context) CreateMediaElementSource(t mixer.Transport) (mixer.AudioNode, error) {
	bt, ok := t.(*BufferTransport)
	if !ok {
		return nil, errors.New("softaudio: transport must be *BufferTransport")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sources[t] {
		return nil, errors.New("softaudio: transport already has a source node")
	}
	c.sources[t] = true
	s := &sourceNode{transport: bt}
	s.node = c.newNode(s.process)
	return s, nil
}

func (c *Context) Destination() mixer.AudioNode { return c.dest }

func (c *Context) newNode(process func(in, out []float32)) *node {
	return &node{ctx: c, process: process, out: make([]float32, Quantum), in: make([]float32, Quantum)}
}

// Render 渲染 frames 个采样并返回目的节点输出。上下文未运行时返回静音且不推进播放位置。
func (c *Context) Render(frames int) []float32 {
	out := make([]float32, 0, frames)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != mixer.ContextRunning {
		return out[:frames]
	}
	for len(out) < frames {
		c.quantum++
		block := c.dest.pull(c.quantum)
		// 分析节点不接到目的节点，单独拉取
		for _, a := range c.analysers {
			a.node.pull(c.quantum)
		}
		n := frames - len(out)
		if n > Quantum {
			n = Quantum
		}
		out = append(out, block[:n]...)
	}
	return out
}
