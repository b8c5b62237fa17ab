package softaudio

import (
	"math"

	"CollabFM/core/mixer"
)

// biquadNode 按 RBJ Audio EQ Cookbook 计算系数，Direct Form I
type biquadNode struct {
	*node
	kind       mixer.FilterType
	sampleRate float64

	freq, q, gain float64
	dirty         bool

	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newBiquad(t mixer.FilterType, sampleRate float64) *biquadNode {
	return &biquadNode{
		kind:       t,
		sampleRate: sampleRate,
		freq:       350,
		q:          1,
		dirty:      true,
	}
}

func (b *biquadNode) SetFrequency(hz float64) {
	b.ctx.mu.Lock()
	b.freq = hz
	b.dirty = true
	b.ctx.mu.Unlock()
}

func (b *biquadNode) SetQ(q float64) {
	b.ctx.mu.Lock()
	b.q = q
	b.dirty = true
	b.ctx.mu.Unlock()
}

func (b *biquadNode) SetGain(db float64) {
	b.ctx.mu.Lock()
	b.gain = db
	b.dirty = true
	b.ctx.mu.Unlock()
}

func (b *biquadNode) coefficients() {
	nyquist := b.sampleRate / 2
	f := math.Min(math.Max(b.freq, 1), nyquist*0.999)
	q := b.q
	if q <= 0 {
		q = 1e-4
	}

	w0 := 2 * math.Pi * f / b.sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	var b0, b1, b2, a0, a1, a2 float64

	switch b.kind {
	case mixer.FilterHighpass:
		alpha := sinw / (2 * q)
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw
		a2 = 1 - alpha
	case mixer.FilterPeaking:
		A := math.Pow(10, b.gain/40)
		alpha := sinw / (2 * q)
		b0 = 1 + alpha*A
		b1 = -2 * cosw
		b2 = 1 - alpha*A
		a0 = 1 + alpha/A
		a1 = -2 * cosw
		a2 = 1 - alpha/A
	case mixer.FilterHighshelf:
		// 斜率 S=1
		A := math.Pow(10, b.gain/40)
		alpha := sinw / 2 * math.Sqrt2
		sq := 2 * math.Sqrt(A) * alpha
		b0 = A * ((A + 1) + (A-1)*cosw + sq)
		b1 = -2 * A * ((A - 1) + (A+1)*cosw)
		b2 = A * ((A + 1) + (A-1)*cosw - sq)
		a0 = (A + 1) - (A-1)*cosw + sq
		a1 = 2 * ((A - 1) - (A+1)*cosw)
		a2 = (A + 1) - (A-1)*cosw - sq
	default:
		b0, a0 = 1, 1
	}

	b.b0, b.b1, b.b2 = b0/a0, b1/a0, b2/a0
	b.a1, b.a2 = a1/a0, a2/a0
	b.dirty = false
}

func (b *biquadNode) process(in, out []float32) {
	if b.dirty {
		b.coefficients()
	}
	for i, v := range in {
		x := float64(v)
		y := b.b0*x + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
		b.x2, b.x1 = b.x1, x
		b.y2, b.y1 = b.y1, y
		out[i] = float32(y)
	}
}
