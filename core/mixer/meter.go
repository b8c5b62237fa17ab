package mixer

import (
	"math"
	"sync"
)

// Level 一帧的峰值与均方根，范围 [0,1]
type Level struct {
	Peak float64 `json:"peak"`
	RMS  float64 `json:"rms"`
}

type meterTap int

const (
	tapMaster meterTap = iota
	tapPlayer1
	tapPlayer2
	tapCount
)

// meterSubscriptions 三组订阅者共用一个帧任务，全部为空时任务停止
type meterSubscriptions struct {
	subs   [tapCount]map[uint64]func(Level)
	nextID uint64
	stop   func()
	buf    []float32
}

func (m *meterSubscriptions) empty() bool {
	for _, s := range m.subs {
		if len(s) > 0 {
			return false
		}
	}
	return true
}

func (m *meterSubscriptions) reset() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	for i := range m.subs {
		m.subs[i] = nil
	}
}

// OnMasterLevel 订阅总线电平（经过 200Hz 高通），返回取消函数
func (e *Engine) OnMasterLevel(fn func(Level)) (unsubscribe func()) {
	return e.subscribe(tapMaster, fn)
}

// OnPlayer1Level 订阅提交通道电平（EQ 与静音之后）
func (e *Engine) OnPlayer1Level(fn func(Level)) (unsubscribe func()) {
	return e.subscribe(tapPlayer1, fn)
}

// OnPlayer2Level 订阅伴奏通道电平
func (e *Engine) OnPlayer2Level(fn func(Level)) (unsubscribe func()) {
	return e.subscribe(tapPlayer2, fn)
}

func (e *Engine) subscribe(tap meterTap, fn func(Level)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || fn == nil {
		return func() {}
	}

	m := &e.meters
	m.nextID++
	id := m.nextID
	if m.subs[tap] == nil {
		m.subs[tap] = make(map[uint64]func(Level))
	}
	m.subs[tap][id] = fn
	if m.stop == nil {
		m.stop = e.frames.Every(FrameInterval, e.meterTick)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(m.subs[tap], id)
			if m.empty() && m.stop != nil {
				m.stop()
				m.stop = nil
			}
		})
	}
}

// MeterRunning 电平帧任务是否在运行
func (e *Engine) MeterRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meters.stop != nil
}

type levelDelivery struct {
	level Level
	fns   []func(Level)
}

func (e *Engine) meterTick() {
	e.mu.Lock()
	g := e.graph
	if g == nil || e.meters.empty() {
		e.mu.Unlock()
		return
	}
	m := &e.meters
	if len(m.buf) != AnalyserSize {
		m.buf = make([]float32, AnalyserSize)
	}

	analysers := [tapCount]AnalyserNode{g.masterAnalyser, g.analyser1, g.analyser2}
	var out []levelDelivery
	for tap, subs := range m.subs {
		if len(subs) == 0 {
			continue
		}
		analysers[tap].FloatTimeDomainData(m.buf)
		d := levelDelivery{level: ComputeLevel(m.buf)}
		for _, fn := range subs {
			d.fns = append(d.fns, fn)
		}
		out = append(out, d)
	}
	e.mu.Unlock()

	for _, d := range out {
		for _, fn := range d.fns {
			fn(d.level)
		}
	}
}

// ComputeLevel 计算采样的峰值绝对值和均方根
func ComputeLevel(samples []float32) Level {
	if len(samples) == 0 {
		return Level{}
	}
	var peak, sum float64
	for _, s := range samples {
		v := float64(s)
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sum += v * v
	}
	return Level{
		Peak: peak,
		RMS:  math.Sqrt(sum / float64(len(samples))),
	}
}
