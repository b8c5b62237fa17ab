package mixer

// ControllerState 描述当前由哪个逻辑列表驱动播放，决定上一首/下一首如何解析
type ControllerState struct {
	PastStagePlayback bool `json:"pastStagePlayback"`
	PlayingFavourite  bool `json:"playingFavourite"`
	// CurrentTrackID 为 -1 表示没有正在播放的编号提交
	CurrentTrackID int `json:"currentTrackId"`
}

// PlayerState 单个通道的镜像状态
type PlayerState struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Volume      float64 `json:"volume"`
	Source      string  `json:"source,omitempty"`
	HasEnded    bool    `json:"hasEnded"`
	Error       string  `json:"error,omitempty"`
}

type MasterState struct {
	Volume float64 `json:"volume"`
}

type HighpassBand struct {
	Frequency float64 `json:"frequency"`
	Q         float64 `json:"Q"`
}

type ParametricBand struct {
	Frequency float64 `json:"frequency"`
	Q         float64 `json:"Q"`
	Gain      float64 `json:"gain"`
}

type HighshelfBand struct {
	Frequency float64 `json:"frequency"`
	Gain      float64 `json:"gain"`
}

// EqState 提交通道的四段均衡
type EqState struct {
	Highpass  HighpassBand   `json:"highpass"`
	Param1    ParametricBand `json:"param1"`
	Param2    ParametricBand `json:"param2"`
	Highshelf HighshelfBand  `json:"highshelf"`
}

// EqPatch 局部更新，nil 表示该段不变
type EqPatch struct {
	Highpass  *HighpassBand
	Param1    *ParametricBand
	Param2    *ParametricBand
	Highshelf *HighshelfBand
}

func (eq EqState) merge(p EqPatch) EqState {
	if p.Highpass != nil {
		eq.Highpass = *p.Highpass
	}
	if p.Param1 != nil {
		eq.Param1 = *p.Param1
	}
	if p.Param2 != nil {
		eq.Param2 = *p.Param2
	}
	if p.Highshelf != nil {
		eq.Highshelf = *p.Highshelf
	}
	return eq
}

// AudioState 引擎状态快照。只含值类型，复制即不可变。
type AudioState struct {
	PlayerController ControllerState `json:"playerController"`
	Player1          PlayerState     `json:"player1"`
	Player2          PlayerState     `json:"player2"`
	Master           MasterState     `json:"master"`
	Eq               EqState         `json:"eq"`
}

// DefaultEq 默认均衡参数（全部平直）
func DefaultEq() EqState {
	return EqState{
		Highpass:  HighpassBand{Frequency: 20, Q: 0.707},
		Param1:    ParametricBand{Frequency: 250, Q: 1, Gain: 0},
		Param2:    ParametricBand{Frequency: 2500, Q: 1, Gain: 0},
		Highshelf: HighshelfBand{Frequency: 8000, Gain: 0},
	}
}

// DefaultAudioState 引擎初始状态
func DefaultAudioState() AudioState {
	return AudioState{
		PlayerController: ControllerState{CurrentTrackID: -1},
		Player1:          PlayerState{Volume: 1},
		Player2:          PlayerState{Volume: 1},
		Master:           MasterState{Volume: 1},
		Eq:               DefaultEq(),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0: // NaN 按 0 处理
		return 0
	case v > 1:
		return 1
	}
	return v
}
