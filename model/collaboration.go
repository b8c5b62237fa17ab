package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ========== 常量定义 ==========

const (
	// 合作阶段，只会按 submission -> voting -> completed 单向推进
	StatusSubmission  = "submission"
	StatusVoting      = "voting"
	StatusCompleted   = "completed"
	StatusUnpublished = "unpublished"
)

// VoteResults 投票统计结果：投票选项（提交文件路径）-> 票数
type VoteResults map[string]int

// Scan 实现 sql.Scanner 接口
func (v *VoteResults) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	var bytes []byte
	switch val := value.(type) {
	case []byte:
		bytes = val
	case string:
		bytes = []byte(val)
	default:
		return fmt.Errorf("unsupported VoteResults column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*v = nil
		return nil
	}
	return json.Unmarshal(bytes, v)
}

// Value 实现 driver.Valuer 接口
func (v VoteResults) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Collaboration 一次合作：所有人针对同一条伴奏提交演奏，随后投票
type Collaboration struct {
	ID                string      `json:"id" gorm:"primaryKey;size:36"`
	ProjectID         string      `json:"projectId" gorm:"size:36;index"`
	Name              string      `json:"name" gorm:"size:200"`
	BackingTrackPath  string      `json:"backingTrackPath" gorm:"size:512"`
	Status            string      `json:"status" gorm:"size:20;index:idx_collab_submission,priority:1;index:idx_collab_voting,priority:1"`
	SubmissionCloseAt *time.Time  `json:"submissionCloseAt,omitempty" gorm:"index:idx_collab_submission,priority:2"`
	VotingCloseAt     *time.Time  `json:"votingCloseAt,omitempty" gorm:"index:idx_collab_voting,priority:2"`
	VotingStartedAt   *time.Time  `json:"votingStartedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
	ResultsComputedAt *time.Time  `json:"resultsComputedAt,omitempty"` // 计票幂等标记，只写一次
	Results           VoteResults `json:"results,omitempty" gorm:"type:json"`
	WinnerPath        *string     `json:"winnerPath,omitempty" gorm:"size:512"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

// TableName 指定表名
func (Collaboration) TableName() string {
	return "collaborations"
}

// Clone 深拷贝，内存存储用它隔离读写
func (c *Collaboration) Clone() *Collaboration {
	out := *c
	out.SubmissionCloseAt = cloneTime(c.SubmissionCloseAt)
	out.VotingCloseAt = cloneTime(c.VotingCloseAt)
	out.VotingStartedAt = cloneTime(c.VotingStartedAt)
	out.CompletedAt = cloneTime(c.CompletedAt)
	out.ResultsComputedAt = cloneTime(c.ResultsComputedAt)
	if c.WinnerPath != nil {
		w := *c.WinnerPath
		out.WinnerPath = &w
	}
	if c.Results != nil {
		out.Results = make(VoteResults, len(c.Results))
		for k, n := range c.Results {
			out.Results[k] = n
		}
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// UserCollaboration 用户在某次合作中的记录，每个 (用户, 合作) 一条
type UserCollaboration struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	UserID          int64     `json:"userId" gorm:"uniqueIndex:idx_user_collab,priority:1;not null"`
	CollaborationID string    `json:"collaborationId" gorm:"size:36;uniqueIndex:idx_user_collab,priority:2;index;not null"`
	FinalVote       *string   `json:"finalVote,omitempty" gorm:"size:512"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (UserCollaboration) TableName() string {
	return "user_collaborations"
}

// StageEvent 阶段变更事件（Redis Pub/Sub 与 WebSocket 推送）
type StageEvent struct {
	CollaborationID string      `json:"collaborationId"`
	From            string      `json:"from"`
	To              string      `json:"to"`
	WinnerPath      *string     `json:"winnerPath,omitempty"`
	Results         VoteResults `json:"results,omitempty"`
	At              time.Time   `json:"at"`
}
