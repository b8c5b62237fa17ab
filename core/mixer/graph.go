package mixer

import "context"

// ContextState 音频上下文状态
type ContextState string

const (
	ContextSuspended ContextState = "suspended"
	ContextRunning   ContextState = "running"
	ContextClosed    ContextState = "closed"
)

// FilterType 双二阶滤波器类型
type FilterType string

const (
	FilterHighpass  FilterType = "highpass"
	FilterPeaking   FilterType = "peaking"
	FilterHighshelf FilterType = "highshelf"
)

// AudioNode 音频图中的节点
type AudioNode interface {
	Connect(dst AudioNode)
	// Disconnect 断开该节点的全部输出
	Disconnect()
}

// GainNode 增益节点
type GainNode interface {
	AudioNode
	SetGain(v float64)
}

// BiquadFilterNode 双二阶滤波器，Gain 单位为 dB（highpass 忽略）
type BiquadFilterNode interface {
	AudioNode
	SetFrequency(hz float64)
	SetQ(q float64)
	SetGain(db float64)
}

// AnalyserNode 电平分析节点，FloatTimeDomainData 填充最近的采样
type AnalyserNode interface {
	AudioNode
	FFTSize() int
	FloatTimeDomainData(dst []float32)
}

// AudioContext 音频上下文，需要用户手势后才能 Resume
type AudioContext interface {
	State() ContextState
	Resume(ctx context.Context) error

	CreateGain() GainNode
	CreateBiquadFilter(t FilterType) BiquadFilterNode
	CreateAnalyser(fftSize int) AnalyserNode
	CreateMediaElementSource(t Transport) (AudioNode, error)
	Destination() AudioNode
}

// ContextFactory 延迟创建音频上下文
type ContextFactory func() (AudioContext, error)

// graph 引擎持有的路由图:
//
//	src1 -> gain1 -> [highpass -> param1 -> param2 -> highshelf] -> mute1 -> master -> destination
//	src2 -> gain2 -> master
//	master -> meterHighpass(200Hz) -> masterAnalyser
//	mute1 -> analyser1
//	gain2 -> analyser2
type graph struct {
	ctx AudioContext

	gain1, mute1, gain2, master GainNode

	highpass, param1, param2, highshelf BiquadFilterNode
	meterHighpass                       BiquadFilterNode

	masterAnalyser, analyser1, analyser2 AnalyserNode
}

func buildGraph(ac AudioContext, p1, p2 Transport) (*graph, error) {
	src1, err := ac.CreateMediaElementSource(p1)
	if err != nil {
		return nil, err
	}
	src2, err := ac.CreateMediaElementSource(p2)
	if err != nil {
		return nil, err
	}

	g := &graph{
		ctx:            ac,
		gain1:          ac.CreateGain(),
		mute1:          ac.CreateGain(),
		gain2:          ac.CreateGain(),
		master:         ac.CreateGain(),
		highpass:       ac.CreateBiquadFilter(FilterHighpass),
		param1:         ac.CreateBiquadFilter(FilterPeaking),
		param2:         ac.CreateBiquadFilter(FilterPeaking),
		highshelf:      ac.CreateBiquadFilter(FilterHighshelf),
		meterHighpass:  ac.CreateBiquadFilter(FilterHighpass),
		masterAnalyser: ac.CreateAnalyser(AnalyserSize),
		analyser1:      ac.CreateAnalyser(AnalyserSize),
		analyser2:      ac.CreateAnalyser(AnalyserSize),
	}

	src1.Connect(g.gain1)
	g.highpass.Connect(g.param1)
	g.param1.Connect(g.param2)
	g.param2.Connect(g.highshelf)
	g.highshelf.Connect(g.mute1)
	g.mute1.Connect(g.master)
	g.mute1.Connect(g.analyser1)

	src2.Connect(g.gain2)
	g.gain2.Connect(g.master)
	g.gain2.Connect(g.analyser2)

	g.master.Connect(ac.Destination())
	// 低频会压满电平表，总线表先过 200Hz 高通
	g.meterHighpass.SetFrequency(MeterHighpassHz)
	g.meterHighpass.SetQ(0.707)
	g.master.Connect(g.meterHighpass)
	g.meterHighpass.Connect(g.masterAnalyser)

	return g, nil
}

// routeEq 切换 gain1 的输出：经过四段 EQ 或直连 mute1
func (g *graph) routeEq(enabled bool) {
	g.gain1.Disconnect()
	if enabled {
		g.gain1.Connect(g.highpass)
	} else {
		g.gain1.Connect(g.mute1)
	}
}

func (g *graph) applyEq(eq EqState) {
	g.highpass.SetFrequency(eq.Highpass.Frequency)
	g.highpass.SetQ(eq.Highpass.Q)
	g.param1.SetFrequency(eq.Param1.Frequency)
	g.param1.SetQ(eq.Param1.Q)
	g.param1.SetGain(eq.Param1.Gain)
	g.param2.SetFrequency(eq.Param2.Frequency)
	g.param2.SetQ(eq.Param2.Q)
	g.param2.SetGain(eq.Param2.Gain)
	g.highshelf.SetFrequency(eq.Highshelf.Frequency)
	g.highshelf.SetGain(eq.Highshelf.Gain)
}

func (g *graph) applyLevels(s AudioState, submissionMuted bool) {
	g.gain1.SetGain(s.Player1.Volume)
	g.gain2.SetGain(s.Player2.Volume)
	g.master.SetGain(s.Master.Volume)
	if submissionMuted {
		g.mute1.SetGain(0)
	} else {
		g.mute1.SetGain(1)
	}
}
