package mixer

import (
	"context"
	"errors"
)

// PlayerID 标识两个播放通道
type PlayerID int

const (
	// Player1 播放用户提交的演奏
	Player1 PlayerID = 1
	// Player2 播放伴奏
	Player2 PlayerID = 2
)

func (id PlayerID) String() string {
	switch id {
	case Player1:
		return "player1"
	case Player2:
		return "player2"
	}
	return "unknown"
}

// ErrPlaybackDenied 传输层因自动播放策略拒绝 Play
var ErrPlaybackDenied = errors.New("mixer: playback denied by autoplay policy")

// Transport 是一个可播放的音频源（浏览器中即 media element）。
// 实现需要支持并发调用；Play 和 WaitCanPlay 可能阻塞，其余方法应立即返回。
type Transport interface {
	Source() string
	// SetSource 指定新的音频地址，Load 开始缓冲
	SetSource(src string)
	Load()

	CurrentTime() float64
	SetCurrentTime(sec float64)
	Duration() float64

	Paused() bool
	Ended() bool
	// Play 开始播放，被自动播放策略拒绝时返回 ErrPlaybackDenied
	Play(ctx context.Context) error
	Pause()

	Muted() bool
	SetMuted(muted bool)

	// WaitCanPlay 阻塞直到缓冲足以开始播放或 ctx 结束
	WaitCanPlay(ctx context.Context) error
}

// PlayOutcome 一次播放尝试的结果
type PlayOutcome int

const (
	PlayStarted PlayOutcome = iota
	// PlayDenied 被自动播放策略拒绝，通道保持暂停
	PlayDenied
	// PlayFailed 其它原因失败，通道同样视为暂停
	PlayFailed
)

func (o PlayOutcome) String() string {
	switch o {
	case PlayStarted:
		return "started"
	case PlayDenied:
		return "denied"
	default:
		return "failed"
	}
}

// EventType 传输层事件类型
type EventType string

const (
	EventTimeUpdate     EventType = "time_update"
	EventLoadedMetadata EventType = "loaded_metadata"
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
)

// TransportEvent 由桥接层转发给 Engine.HandleTransportEvent
type TransportEvent struct {
	Type EventType
	Err  error // 仅 EventError
}
