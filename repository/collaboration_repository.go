package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CollabFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// DueField 到期查询所依据的时间字段
type DueField string

const (
	DueSubmissionClose DueField = "submission_close_at"
	DueVotingClose     DueField = "voting_close_at"
)

// DueQuery 查询 status 匹配且 Field <= Before 的合作，按 Field 升序，最多 Limit 条
type DueQuery struct {
	Status  string
	Field   DueField
	Before  time.Time
	Limit   int
	Exclude []string // 本轮已跳过或失败的文档，避免分页反复取到
}

// CollaborationTx 事务内的操作，Get 读到的是加锁后的最新数据
type CollaborationTx interface {
	Get(id string) (*model.Collaboration, error)
	Save(c *model.Collaboration) error
	FinalVotes(collaborationID string) ([]string, error)
}

// CollaborationStore 阶段调度使用的存储接口
type CollaborationStore interface {
	FindDue(ctx context.Context, q DueQuery) ([]model.Collaboration, error)
	RunInTransaction(ctx context.Context, fn func(tx CollaborationTx) error) error
}

// CollaborationRepository 在调度接口之上增加 HTTP API 需要的读写
type CollaborationRepository interface {
	CollaborationStore

	Create(ctx context.Context, c *model.Collaboration) error
	GetByID(ctx context.Context, id string) (*model.Collaboration, error)
	List(ctx context.Context, status string, limit int) ([]model.Collaboration, error)
	// CastVote 写入或覆盖用户的最终投票，仅在 voting 阶段有效
	CastVote(ctx context.Context, collaborationID string, userID int64, choice string, now time.Time) error
}

// ErrVotingClosed 合作不在投票阶段
var ErrVotingClosed = errors.New("collaboration is not accepting votes")

// gormCollaborationRepository GORM 实现
type gormCollaborationRepository struct {
	db    *gorm.DB
	newID func() string
}

// NewGormCollaborationRepository 创建 GORM 合作仓库
func NewGormCollaborationRepository(db *gorm.DB, newID func() string) CollaborationRepository {
	return &gormCollaborationRepository{db: db, newID: newID}
}

// ========== 调度查询 ==========

// FindDue 查询到期的合作
func (r *gormCollaborationRepository) FindDue(ctx context.Context, q DueQuery) ([]model.Collaboration, error) {
	var out []model.Collaboration
	query := r.db.WithContext(ctx).
		Where("status = ?", q.Status).
		Where(fmt.Sprintf("%s <= ?", q.Field), q.Before)
	if len(q.Exclude) > 0 {
		query = query.Where("id NOT IN ?", q.Exclude)
	}
	err := query.Order(string(q.Field) + " ASC").
		Limit(q.Limit).
		Find(&out).Error
	return out, err
}

// RunInTransaction 在数据库事务中执行 fn，fn 返回错误时回滚
func (r *gormCollaborationRepository) RunInTransaction(ctx context.Context, fn func(tx CollaborationTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormCollaborationTx{db: tx})
	})
}

type gormCollaborationTx struct {
	db *gorm.DB
}

// Get 以 SELECT ... FOR UPDATE 重新读取
func (t *gormCollaborationTx) Get(id string) (*model.Collaboration, error) {
	var c model.Collaboration
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Save 写回整条记录
func (t *gormCollaborationTx) Save(c *model.Collaboration) error {
	return t.db.Save(c).Error
}

// FinalVotes 读取已投出的最终票，与写入处于同一事务
func (t *gormCollaborationTx) FinalVotes(collaborationID string) ([]string, error) {
	var votes []string
	err := t.db.Model(&model.UserCollaboration{}).
		Where("collaboration_id = ? AND final_vote IS NOT NULL", collaborationID).
		Pluck("final_vote", &votes).Error
	return votes, err
}

// ========== API 读写 ==========

// Create 创建合作
func (r *gormCollaborationRepository) Create(ctx context.Context, c *model.Collaboration) error {
	if c.ID == "" {
		c.ID = r.newID()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// GetByID 根据ID获取合作
func (r *gormCollaborationRepository) GetByID(ctx context.Context, id string) (*model.Collaboration, error) {
	var c model.Collaboration
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List 按阶段列出合作，status 为空时列出全部
func (r *gormCollaborationRepository) List(ctx context.Context, status string, limit int) ([]model.Collaboration, error) {
	var out []model.Collaboration
	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// CastVote 投票
func (r *gormCollaborationRepository) CastVote(ctx context.Context, collaborationID string, userID int64, choice string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Collaboration
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", collaborationID).
			First(&c).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if c.Status != model.StatusVoting || c.ResultsComputedAt != nil {
			return ErrVotingClosed
		}

		record := model.UserCollaboration{
			ID:              r.newID(),
			UserID:          userID,
			CollaborationID: collaborationID,
			FinalVote:       &choice,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "collaboration_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"final_vote", "updated_at"}),
		}).Create(&record).Error
	})
}
