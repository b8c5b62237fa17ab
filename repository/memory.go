package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CollabFM/model"
)

// MemoryStore 内存实现的合作存储。事务整体持有写锁串行执行，
// 事务函数返回错误时丢弃本次写入。用于测试和本地演练。
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]*model.Collaboration
	votes   map[string]*model.UserCollaboration
	queries int
	saves   map[string]int

	// FailTx 返回非空错误时，对应文档的 Save 失败（模拟单条事务故障）
	FailTx func(id string) error
	// FailQuery 返回非空错误时 FindDue 失败
	FailQuery func(q DueQuery) error

	newID func() string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(newID func() string) *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]*model.Collaboration),
		votes: make(map[string]*model.UserCollaboration),
		saves: make(map[string]int),
		newID: newID,
	}
}

// Put 直接写入文档（测试数据准备）
func (s *MemoryStore) Put(c *model.Collaboration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[c.ID] = c.Clone()
}

// PutVote 直接写入投票记录
func (s *MemoryStore) PutVote(v *model.UserCollaboration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.votes[v.ID] = &cp
}

// Doc 读取文档副本，不存在时返回 nil
func (s *MemoryStore) Doc(id string) *model.Collaboration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.docs[id]; ok {
		return c.Clone()
	}
	return nil
}

// QueryCount 返回 FindDue 被调用的次数
func (s *MemoryStore) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// SaveCount 返回某文档被成功写入的次数
func (s *MemoryStore) SaveCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[id]
}

// FindDue 实现 CollaborationStore
func (s *MemoryStore) FindDue(ctx context.Context, q DueQuery) ([]model.Collaboration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.FailQuery != nil {
		if err := s.FailQuery(q); err != nil {
			return nil, err
		}
	}

	excluded := make(map[string]struct{}, len(q.Exclude))
	for _, id := range q.Exclude {
		excluded[id] = struct{}{}
	}

	var out []model.Collaboration
	for _, c := range s.docs {
		if _, skip := excluded[c.ID]; skip || c.Status != q.Status {
			continue
		}
		at := dueTime(c, q.Field)
		if at == nil || at.After(q.Before) {
			continue
		}
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := dueTime(&out[i], q.Field), dueTime(&out[j], q.Field)
		if a.Equal(*b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(*b)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func dueTime(c *model.Collaboration, field DueField) *time.Time {
	switch field {
	case DueSubmissionClose:
		return c.SubmissionCloseAt
	case DueVotingClose:
		return c.VotingCloseAt
	}
	return nil
}

// RunInTransaction 实现 CollaborationStore
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx CollaborationTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, pending: make(map[string]*model.Collaboration)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, c := range tx.pending {
		s.docs[id] = c
		s.saves[id]++
	}
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]*model.Collaboration
}

func (t *memoryTx) Get(id string) (*model.Collaboration, error) {
	if c, ok := t.pending[id]; ok {
		return c.Clone(), nil
	}
	c, ok := t.store.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (t *memoryTx) Save(c *model.Collaboration) error {
	if t.store.FailTx != nil {
		if err := t.store.FailTx(c.ID); err != nil {
			return err
		}
	}
	t.pending[c.ID] = c.Clone()
	return nil
}

func (t *memoryTx) FinalVotes(collaborationID string) ([]string, error) {
	var out []string
	for _, v := range t.store.votes {
		if v.CollaborationID == collaborationID && v.FinalVote != nil {
			out = append(out, *v.FinalVote)
		}
	}
	return out, nil
}

// ========== API 读写 ==========

// Create 实现 CollaborationRepository
func (s *MemoryStore) Create(ctx context.Context, c *model.Collaboration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.newID()
	}
	if _, exists := s.docs[c.ID]; exists {
		return fmt.Errorf("collaboration %s already exists", c.ID)
	}
	s.docs[c.ID] = c.Clone()
	return nil
}

// GetByID 实现 CollaborationRepository
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*model.Collaboration, error) {
	if c := s.Doc(id); c != nil {
		return c, nil
	}
	return nil, ErrNotFound
}

// List 实现 CollaborationRepository
func (s *MemoryStore) List(ctx context.Context, status string, limit int) ([]model.Collaboration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Collaboration
	for _, c := range s.docs {
		if status == "" || c.Status == status {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CastVote 实现 CollaborationRepository
func (s *MemoryStore) CastVote(ctx context.Context, collaborationID string, userID int64, choice string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.docs[collaborationID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != model.StatusVoting || c.ResultsComputedAt != nil {
		return ErrVotingClosed
	}
	for _, v := range s.votes {
		if v.CollaborationID == collaborationID && v.UserID == userID {
			v.FinalVote = &choice
			v.UpdatedAt = now
			return nil
		}
	}
	id := s.newID()
	s.votes[id] = &model.UserCollaboration{
		ID:              id,
		UserID:          userID,
		CollaborationID: collaborationID,
		FinalVote:       &choice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return nil
}

var _ CollaborationRepository = (*MemoryStore)(nil)
