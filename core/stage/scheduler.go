// Package stage 定时推进合作阶段（submission -> voting -> completed），
// 并在投票结束时计票。每次调用都是独立的，所有状态都落在存储中。
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CollabFM/logger"
	"CollabFM/model"
	"CollabFM/repository"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultSubmissionPageSize = 200
	DefaultVotingPageSize     = 100
	DefaultInterval           = 3 * time.Minute
)

// errSkip 事务内前置条件不再成立，放弃本次写入但不算失败
var errSkip = errors.New("precondition no longer holds")

// RunRecorder 记录每次运行的报告，供状态接口查询
type RunRecorder interface {
	RecordRun(ctx context.Context, report Report) error
}

// StageNotifier 通知阶段变更
type StageNotifier interface {
	PublishStageChange(ctx context.Context, event model.StageEvent) error
}

// Report 一次调度运行的结果
type Report struct {
	StartedAt          time.Time     `json:"startedAt"`
	SubmissionToVoting int           `json:"submissionToVoting"`
	VotingToCompleted  int           `json:"votingToCompleted"`
	Failed             int           `json:"failed"`
	Duration           time.Duration `json:"duration"`
}

// Processed 实际被修改的文档数
func (r Report) Processed() int {
	return r.SubmissionToVoting + r.VotingToCompleted
}

// Scheduler 阶段调度器
type Scheduler struct {
	store          repository.CollaborationStore
	clock          clock.Clock
	submissionPage int
	votingPage     int
	recorder       RunRecorder
	notifier       StageNotifier
	log            *zap.Logger
}

// Option 调度器选项
type Option func(*Scheduler)

// WithClock 替换时钟
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithPageSizes 设置两轮查询的分页大小，非正数保持默认
func WithPageSizes(submission, voting int) Option {
	return func(s *Scheduler) {
		if submission > 0 {
			s.submissionPage = submission
		}
		if voting > 0 {
			s.votingPage = voting
		}
	}
}

// WithRecorder 设置运行报告记录器
func WithRecorder(r RunRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithNotifier 设置阶段变更通知
func WithNotifier(n StageNotifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// NewScheduler 创建调度器
func NewScheduler(store repository.CollaborationStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          store,
		clock:          clock.New(),
		submissionPage: DefaultSubmissionPageSize,
		votingPage:     DefaultVotingPageSize,
		log:            logger.Named("stage"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 执行一次完整调度。now 在开始时取一次，所有比较和写入都使用它。
// 两轮互不依赖：一轮查询失败只中止该轮，另一轮照常执行，错误合并返回。
// 单个文档的事务失败只记录日志。
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	now := s.clock.Now()
	report := Report{StartedAt: now}

	advanced, failed, advanceErr := s.AdvanceSubmissions(ctx, now)
	report.SubmissionToVoting = advanced
	report.Failed += failed
	if advanceErr != nil {
		s.log.Warn("[Scheduler] 提交阶段推进中止", logger.ErrorField(advanceErr))
	}

	completed, failed, completeErr := s.CompleteVoting(ctx, now)
	report.VotingToCompleted = completed
	report.Failed += failed
	return s.finish(ctx, report, errors.Join(advanceErr, completeErr))
}

func (s *Scheduler) finish(ctx context.Context, report Report, err error) (Report, error) {
	report.Duration = s.clock.Since(report.StartedAt)
	fields := []zap.Field{
		logger.Int("processed", report.Processed()),
		logger.Int("submissionToVoting", report.SubmissionToVoting),
		logger.Int("votingToCompleted", report.VotingToCompleted),
		logger.Int("failed", report.Failed),
		logger.Duration("duration", report.Duration),
	}
	if err != nil {
		s.log.Error("[Scheduler] 本次调度中止", append(fields, logger.ErrorField(err))...)
	} else {
		s.log.Info("[Scheduler] 本次调度完成", fields...)
	}

	if s.recorder != nil {
		if rerr := s.recorder.RecordRun(ctx, report); rerr != nil {
			s.log.Warn("[Scheduler] 记录运行报告失败", logger.ErrorField(rerr))
		}
	}
	return report, err
}

// transition 单个文档的事务内变更，返回 errSkip 表示无需修改
type transition func(tx repository.CollaborationTx, c *model.Collaboration) (model.StageEvent, error)

// drain 按页处理到期文档直到积压清空。已转换的文档不再匹配查询条件，
// 因此每页都从头查询；跳过和失败的文档加入排除列表。
func (s *Scheduler) drain(ctx context.Context, q repository.DueQuery, apply transition) (mutated, failed int, err error) {
	for {
		page, err := s.store.FindDue(ctx, q)
		if err != nil {
			return mutated, failed, fmt.Errorf("query %s collaborations: %w", q.Status, err)
		}

		for _, candidate := range page {
			if err := ctx.Err(); err != nil {
				return mutated, failed, err
			}

			event, changed, terr := s.applyOne(ctx, candidate.ID, apply)
			switch {
			case terr != nil:
				failed++
				q.Exclude = append(q.Exclude, candidate.ID)
				s.log.Error("[Scheduler] 文档事务失败",
					logger.String("collaborationId", candidate.ID),
					logger.String("status", q.Status),
					logger.ErrorField(terr))
			case changed:
				mutated++
				s.notify(ctx, event)
			default:
				q.Exclude = append(q.Exclude, candidate.ID)
			}
		}

		if len(page) < q.Limit {
			return mutated, failed, nil
		}
	}
}

func (s *Scheduler) applyOne(ctx context.Context, id string, apply transition) (model.StageEvent, bool, error) {
	var event model.StageEvent
	err := s.store.RunInTransaction(ctx, func(tx repository.CollaborationTx) error {
		fresh, err := tx.Get(id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errSkip
			}
			return err
		}
		event, err = apply(tx, fresh)
		return err
	})
	if errors.Is(err, errSkip) {
		return event, false, nil
	}
	if err != nil {
		return event, false, err
	}
	return event, true, nil
}

func (s *Scheduler) notify(ctx context.Context, event model.StageEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishStageChange(ctx, event); err != nil {
		s.log.Warn("[Scheduler] 发布阶段变更失败",
			logger.String("collaborationId", event.CollaborationID),
			logger.ErrorField(err))
	}
}

// ========== submission -> voting ==========

// AdvanceSubmissions 将提交期已结束的合作推进到投票阶段
func (s *Scheduler) AdvanceSubmissions(ctx context.Context, now time.Time) (advanced, failed int, err error) {
	q := repository.DueQuery{
		Status: model.StatusSubmission,
		Field:  repository.DueSubmissionClose,
		Before: now,
		Limit:  s.submissionPage,
	}
	return s.drain(ctx, q, func(tx repository.CollaborationTx, c *model.Collaboration) (model.StageEvent, error) {
		if c.Status != model.StatusSubmission || c.SubmissionCloseAt == nil || c.SubmissionCloseAt.After(now) {
			return model.StageEvent{}, errSkip
		}

		c.Status = model.StatusVoting
		c.VotingStartedAt = &now
		c.UpdatedAt = now
		if err := tx.Save(c); err != nil {
			return model.StageEvent{}, err
		}
		return model.StageEvent{
			CollaborationID: c.ID,
			From:            model.StatusSubmission,
			To:              model.StatusVoting,
			At:              now,
		}, nil
	})
}

// ========== voting -> completed ==========

// CompleteVoting 结束到期的投票并计票。ResultsComputedAt 已存在的文档不会重复计票。
func (s *Scheduler) CompleteVoting(ctx context.Context, now time.Time) (completed, failed int, err error) {
	q := repository.DueQuery{
		Status: model.StatusVoting,
		Field:  repository.DueVotingClose,
		Before: now,
		Limit:  s.votingPage,
	}
	return s.drain(ctx, q, func(tx repository.CollaborationTx, c *model.Collaboration) (model.StageEvent, error) {
		if c.Status != model.StatusVoting || c.VotingCloseAt == nil || c.VotingCloseAt.After(now) || c.ResultsComputedAt != nil {
			return model.StageEvent{}, errSkip
		}

		votes, err := tx.FinalVotes(c.ID)
		if err != nil {
			return model.StageEvent{}, fmt.Errorf("read votes: %w", err)
		}
		results, winner := Tally(votes)

		c.Status = model.StatusCompleted
		c.CompletedAt = &now
		c.UpdatedAt = now
		c.Results = results
		c.WinnerPath = winner
		c.ResultsComputedAt = &now
		if err := tx.Save(c); err != nil {
			return model.StageEvent{}, err
		}

		s.log.Info("[Scheduler] 投票结束",
			logger.String("collaborationId", c.ID),
			logger.Int("votes", len(votes)),
			logger.Any("winner", winner))
		return model.StageEvent{
			CollaborationID: c.ID,
			From:            model.StatusVoting,
			To:              model.StatusCompleted,
			WinnerPath:      winner,
			Results:         results,
			At:              now,
		}, nil
	})
}

// Loop 立即运行一次，然后每隔 interval 运行，直到 ctx 结束。
// 单次失败只记录日志，依赖下一次运行重试。
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("[Scheduler] 等待下次运行重试", logger.Duration("interval", interval))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
