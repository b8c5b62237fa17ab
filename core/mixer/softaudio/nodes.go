package softaudio

import (
	"CollabFM/core/mixer"
)

// node 是所有节点的公共部分：输入列表和本 quantum 的缓存输出
type node struct {
	ctx     *Context
	inputs  []*node
	outs    []*node
	process func(in, out []float32)

	in, out  []float32
	rendered int64
}

// owner 让包装类型拿到内部的 *node
type owner interface{ base() *node }

func (n *node) base() *node { return n }

func (n *node) Connect(dst mixer.AudioNode) {
	o, ok := dst.(owner)
	if !ok {
		return
	}
	d := o.base()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, existing := range n.outs {
		if existing == d {
			return
		}
	}
	n.outs = append(n.outs, d)
	d.inputs = append(d.inputs, n)
}

func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, d := range n.outs {
		for i, in := range d.inputs {
			if in == n {
				d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
				break
			}
		}
	}
	n.outs = nil
}

// pull 在持有 ctx.mu 时调用；同一 quantum 内只渲染一次
func (n *node) pull(q int64) []float32 {
	if n.rendered == q {
		return n.out
	}
	n.rendered = q
	for i := range n.in {
		n.in[i] = 0
	}
	for _, src := range n.inputs {
		block := src.pull(q)
		for i, v := range block {
			n.in[i] += v
		}
	}
	n.process(n.in, n.out)
	return n.out
}

func sumInputs(in, out []float32) { copy(out, in) }

// ========== gain ==========

type gainNode struct {
	*node
	gain float64
}

func (g *gainNode) SetGain(v float64) {
	g.ctx.mu.Lock()
	g.gain = v
	g.ctx.mu.Unlock()
}

func (g *gainNode) process(in, out []float32) {
	k := float32(g.gain)
	for i, v := range in {
		out[i] = v * k
	}
}

// ========== analyser ==========

type analyserNode struct {
	*node
	ring []float32
	pos  int
}

func (a *analyserNode) FFTSize() int { return len(a.ring) }

// FloatTimeDomainData 按时间顺序复制最近 FFTSize 个采样
func (a *analyserNode) FloatTimeDomainData(dst []float32) {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	n := len(a.ring)
	for i := range dst {
		if i >= n {
			dst[i] = 0
			continue
		}
		dst[i] = a.ring[(a.pos+i)%n]
	}
}

func (a *analyserNode) process(in, out []float32) {
	copy(out, in)
	for _, v := range in {
		a.ring[a.pos] = v
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// ========== media element source ==========

type sourceNode struct {
	*node
	transport *BufferTransport
}

func (s *sourceNode) process(_, out []float32) {
	s.transport.read(out)
}
