package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"CollabFM/core/stage"
	"CollabFM/logger"
	"CollabFM/model"

	"github.com/go-redis/redis/v8"
)

const (
	lastRunKey   = "scheduler:last_run" // Hash: 最近一次运行报告
	totalsKey    = "scheduler:totals"   // Hash: 累计计数
	StageChannel = "collaboration:stage"
	lastRunTTL   = 7 * 24 * time.Hour
)

// RunStatus 调度器状态，GET /api/scheduler/status 返回
type RunStatus struct {
	StartedAt          time.Time `json:"startedAt"`
	DurationMs         int64     `json:"durationMs"`
	SubmissionToVoting int       `json:"submissionToVoting"`
	VotingToCompleted  int       `json:"votingToCompleted"`
	Failed             int       `json:"failed"`
	TotalRuns          int64     `json:"totalRuns"`
	TotalProcessed     int64     `json:"totalProcessed"`
}

// SchedulerCache 调度运行记录与阶段事件
type SchedulerCache struct {
	client *redis.Client
}

// NewSchedulerCache 创建调度缓存，client 为 nil 时使用全局 RedisClient
func NewSchedulerCache(client *redis.Client) *SchedulerCache {
	if client == nil {
		client = RedisClient
	}
	return &SchedulerCache{client: client}
}

// ========== 运行记录 ==========

// RecordRun 覆盖最近一次的运行报告并累加计数
func (c *SchedulerCache) RecordRun(ctx context.Context, r stage.Report) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, lastRunKey, encodeReport(r))
	pipe.Expire(ctx, lastRunKey, lastRunTTL)
	pipe.HIncrBy(ctx, totalsKey, "runs", 1)
	pipe.HIncrBy(ctx, totalsKey, "processed", int64(r.Processed()))
	_, err := pipe.Exec(ctx)
	return err
}

// LastRun 读取最近一次运行，从未运行过时返回 nil
func (c *SchedulerCache) LastRun(ctx context.Context) (*RunStatus, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	last := pipe.HGetAll(ctx, lastRunKey)
	totals := pipe.HGetAll(ctx, totalsKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	return decodeRunStatus(last.Val(), totals.Val())
}

func encodeReport(r stage.Report) map[string]interface{} {
	return map[string]interface{}{
		"started_at":           r.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":          r.Duration.Milliseconds(),
		"submission_to_voting": r.SubmissionToVoting,
		"voting_to_completed":  r.VotingToCompleted,
		"failed":               r.Failed,
	}
}

func decodeRunStatus(last, totals map[string]string) (*RunStatus, error) {
	if len(last) == 0 {
		return nil, nil
	}

	var (
		s   RunStatus
		err error
	)
	if s.StartedAt, err = time.Parse(time.RFC3339Nano, last["started_at"]); err != nil {
		return nil, fmt.Errorf("invalid started_at: %w", err)
	}
	s.DurationMs, _ = strconv.ParseInt(last["duration_ms"], 10, 64)
	s.SubmissionToVoting, _ = strconv.Atoi(last["submission_to_voting"])
	s.VotingToCompleted, _ = strconv.Atoi(last["voting_to_completed"])
	s.Failed, _ = strconv.Atoi(last["failed"])
	s.TotalRuns, _ = strconv.ParseInt(totals["runs"], 10, 64)
	s.TotalProcessed, _ = strconv.ParseInt(totals["processed"], 10, 64)
	return &s, nil
}

// ========== 阶段事件 ==========

// PublishStageChange 发布阶段变更
func (c *SchedulerCache) PublishStageChange(ctx context.Context, ev model.StageEvent) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}
	return c.client.Publish(ctx, StageChannel, data).Err()
}

// SubscribeStageChanges 订阅阶段变更，ctx 结束时关闭返回的 channel
func (c *SchedulerCache) SubscribeStageChanges(ctx context.Context) (<-chan model.StageEvent, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	sub := c.client.Subscribe(ctx, StageChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe %s: %w", StageChannel, err)
	}

	out := make(chan model.StageEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeStageEvent(msg.Payload)
				if err != nil {
					logger.Warn("[Cache] 丢弃无法解析的阶段事件", logger.ErrorField(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeStageEvent(payload string) (model.StageEvent, error) {
	var ev model.StageEvent
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}
