package mixer

import (
	"context"
	"errors"
	"math"
	"time"

	"CollabFM/logger"

	"golang.org/x/sync/errgroup"
)

// PlaySubmission 同时播放编号为 index 的提交与伴奏，并开启已听统计。
// 单路播放失败只记录日志，不返回错误；仅 Unlock 失败或 ctx 结束时返回错误。
func (e *Engine) PlaySubmission(ctx context.Context, submissionSrc, backingSrc string, index int) error {
	if err := e.prepareBoth(ctx, submissionSrc, backingSrc); err != nil {
		return err
	}
	e.update(func() {
		e.state.PlayerController.PastStagePlayback = false
		e.state.PlayerController.CurrentTrackID = index
	})

	e.startResilient(ctx)
	e.SynchronizePlayers(postPlaySyncWindow, e.driftThreshold)
	e.beginTracking(submissionSrc)
	return nil
}

// PlayPastStage 播放往期阶段的成品，两路一起等待开始，不做已听统计
func (e *Engine) PlayPastStage(ctx context.Context, submissionSrc, backingSrc string, index int) error {
	if err := e.prepareBoth(ctx, submissionSrc, backingSrc); err != nil {
		return err
	}
	e.tracker.StopTracking()
	e.update(func() {
		e.state.PlayerController.PastStagePlayback = true
		e.state.PlayerController.CurrentTrackID = index
	})

	p1, p2 := e.players[0], e.players[1]
	var g errgroup.Group
	g.Go(func() error { return p1.Play(ctx) })
	g.Go(func() error { return p2.Play(ctx) })
	if err := g.Wait(); err != nil {
		e.logPlayFailure("both", err)
	}

	e.update(func() {
		e.state.Player1.IsPlaying = !p1.Paused()
		e.state.Player2.IsPlaying = !p2.Paused()
	})
	e.SynchronizePlayers(postPlaySyncWindow, e.driftThreshold)
	return nil
}

// PlayBackingOnly 暂停提交通道，只播放伴奏。CurrentTrackID 置为 -1。
func (e *Engine) PlayBackingOnly(ctx context.Context, backingSrc string) error {
	if err := e.Unlock(ctx); err != nil {
		return err
	}
	e.tracker.PauseTracking()
	e.update(func() {
		e.playGen++
		e.stopSyncLocked()
		e.players[0].Pause()
		e.state.Player1.IsPlaying = false
		e.loadSourceLocked(Player2, backingSrc)
	})

	e.waitBuffered(ctx, Player2, backingBufferWait)
	if err := ctx.Err(); err != nil {
		return err
	}

	p2 := e.players[1]
	e.attemptPlay(ctx, Player2)
	e.update(func() {
		e.state.PlayerController.PastStagePlayback = true
		e.state.PlayerController.CurrentTrackID = -1
		e.state.Player2.IsPlaying = !p2.Paused()
		e.state.Player2.HasEnded = false
	})
	return nil
}

// PreviewSubmission 与 PlaySubmission 相同的启动流程，但不修改控制器状态和已听统计
func (e *Engine) PreviewSubmission(ctx context.Context, submissionSrc, backingSrc string) error {
	if err := e.prepareBoth(ctx, submissionSrc, backingSrc); err != nil {
		return err
	}
	e.startResilient(ctx)
	e.SynchronizePlayers(postPlaySyncWindow, e.driftThreshold)
	return nil
}

// PreloadBacking 静音短暂播放伴奏以预热缓冲，结束后回到开头并恢复静音状态。
// 伴奏正在播放时不做任何事。
// 预热期间有其它播放流程接管伴奏时，只恢复静音状态，不暂停也不回到开头。
func (e *Engine) PreloadBacking(ctx context.Context, backingSrc string) error {
	p2 := e.players[1]

	e.mu.Lock()
	if !p2.Paused() {
		e.mu.Unlock()
		return nil
	}
	gen := e.playGen
	e.loadSourceLocked(Player2, backingSrc)
	wasMuted := p2.Muted()
	p2.SetMuted(true)
	e.emitLocked()

	started := e.attemptPlay(ctx, Player2) == PlayStarted
	if started {
		e.waitBuffered(ctx, Player2, backingBufferWait)
	}

	e.mu.Lock()
	p2.SetMuted(wasMuted)
	if e.playGen != gen {
		e.mu.Unlock()
		e.log.Debug("[Mixer] 预热被播放打断")
		return ctx.Err()
	}
	if started {
		p2.Pause()
	}
	p2.SetCurrentTime(0)
	e.state.Player2.CurrentTime = 0
	e.state.Player2.IsPlaying = false
	e.emitLocked()
	return ctx.Err()
}

// Pause 暂停两路，停止同步，已听统计暂停计时
func (e *Engine) Pause() {
	e.update(func() {
		e.stopSyncLocked()
		e.players[0].Pause()
		e.players[1].Pause()
		e.state.Player1.IsPlaying = false
		e.state.Player2.IsPlaying = false
	})
	e.tracker.PauseTracking()
}

// Resume 恢复 Pause 之前的播放。只播伴奏的模式下只恢复 player2。
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.Unlock(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.playGen++
	ctrl := e.state.PlayerController
	e.mu.Unlock()
	if ctrl.PastStagePlayback && ctrl.CurrentTrackID == -1 {
		e.attemptPlay(ctx, Player2)
		p2 := e.players[1]
		e.update(func() { e.state.Player2.IsPlaying = !p2.Paused() })
		return nil
	}

	e.startResilient(ctx)
	if !e.players[0].Paused() {
		e.tracker.ResumeTracking()
	}
	e.SynchronizePlayers(postPlaySyncWindow, e.driftThreshold)
	return nil
}

// Seek 跳转到 t 秒。pastStage 为 true 时只移动伴奏；
// 否则两路一起移动，当前已听会话作废（本次播放不再计为已听）。
func (e *Engine) Seek(t float64, pastStage bool) {
	if t < 0 || math.IsNaN(t) {
		t = 0
	}
	var playing bool
	e.update(func() {
		p1, p2 := e.players[0], e.players[1]
		if pastStage {
			p2.SetCurrentTime(t)
			e.state.Player2.CurrentTime = t
			return
		}
		p1.SetCurrentTime(t)
		p2.SetCurrentTime(t)
		e.state.Player1.CurrentTime = t
		e.state.Player2.CurrentTime = t
		e.state.Player1.HasEnded = false
		e.state.Player2.HasEnded = false
		playing = !p1.Paused() && !p2.Paused()
	})
	if pastStage {
		return
	}
	e.tracker.StopTracking()
	if playing {
		e.SynchronizePlayers(postPlaySyncWindow, e.driftThreshold)
	}
}

// ========== 启动流程 ==========

// prepareBoth 解锁上下文、加载两路音源、等待缓冲并把两路放回开头
func (e *Engine) prepareBoth(ctx context.Context, submissionSrc, backingSrc string) error {
	if err := e.Unlock(ctx); err != nil {
		return err
	}
	e.update(func() {
		e.playGen++
		e.stopSyncLocked()
		e.loadSourceLocked(Player1, submissionSrc)
		e.loadSourceLocked(Player2, backingSrc)
	})

	e.waitBuffered(ctx, Player1, submissionBufferWait)
	e.waitBuffered(ctx, Player2, backingBufferWait)
	if err := ctx.Err(); err != nil {
		return err
	}

	e.update(func() {
		e.players[0].SetCurrentTime(0)
		e.players[1].SetCurrentTime(0)
		e.state.Player1.CurrentTime = 0
		e.state.Player2.CurrentTime = 0
		e.state.Player1.HasEnded = false
		e.state.Player2.HasEnded = false
	})
	return nil
}

// startResilient 依次启动两路。伴奏启动后仍处于暂停时，强制恢复上下文再试一次。
// 最后把两路对齐到较靠后的位置。
func (e *Engine) startResilient(ctx context.Context) {
	p1, p2 := e.players[0], e.players[1]

	e.attemptPlay(ctx, Player1)
	e.attemptPlay(ctx, Player2)
	if p2.Paused() {
		_ = e.resumeContext(ctx, e.currentGraph())
		if out := e.attemptPlay(ctx, Player2); out != PlayStarted {
			e.log.Warn("[Mixer] 伴奏重试后仍未开始", logger.String("outcome", out.String()))
		}
	}

	e.update(func() {
		pos := math.Max(p1.CurrentTime(), p2.CurrentTime())
		p1.SetCurrentTime(pos)
		p2.SetCurrentTime(pos)
		e.state.Player1.CurrentTime = pos
		e.state.Player2.CurrentTime = pos
		e.state.Player1.IsPlaying = !p1.Paused()
		e.state.Player2.IsPlaying = !p2.Paused()
	})
}

// attemptPlay 启动一路播放，错误归类为 PlayOutcome，不向上返回
func (e *Engine) attemptPlay(ctx context.Context, id PlayerID) PlayOutcome {
	if err := e.transport(id).Play(ctx); err != nil {
		e.logPlayFailure(id.String(), err)
		if errors.Is(err, ErrPlaybackDenied) {
			return PlayDenied
		}
		return PlayFailed
	}
	return PlayStarted
}

func (e *Engine) logPlayFailure(who string, err error) {
	if errors.Is(err, ErrPlaybackDenied) {
		e.log.Debug("[Mixer] 自动播放被拒绝", logger.String("player", who))
		return
	}
	e.log.Warn("[Mixer] 播放失败", logger.String("player", who), logger.ErrorField(err))
}

// waitBuffered 最多等待 limit，超时不算错误
func (e *Engine) waitBuffered(ctx context.Context, id PlayerID, limit time.Duration) {
	wctx, cancel := e.clock.WithTimeout(ctx, limit)
	defer cancel()
	if err := e.transport(id).WaitCanPlay(wctx); err != nil && ctx.Err() == nil {
		e.log.Debug("[Mixer] 缓冲等待结束", logger.String("player", id.String()), logger.ErrorField(err))
	}
}
