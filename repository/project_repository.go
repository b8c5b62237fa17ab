package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"CollabFM/model"

	"gorm.io/gorm"
)

// TextCleaner 文本过滤，由 sanitize.Sanitizer 实现
type TextCleaner interface {
	Clean(text string) string
}

// ProjectRepository 项目数据访问接口，所有写入前都会过滤描述
type ProjectRepository interface {
	Create(ctx context.Context, p *model.Project) error
	Update(ctx context.Context, p *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
}

// gormProjectRepository GORM 实现
type gormProjectRepository struct {
	db      *gorm.DB
	cleaner TextCleaner
	newID   func() string
}

// NewGormProjectRepository 创建 GORM 项目仓库
func NewGormProjectRepository(db *gorm.DB, cleaner TextCleaner, newID func() string) ProjectRepository {
	return &gormProjectRepository{db: db, cleaner: cleaner, newID: newID}
}

// Create 创建项目
func (r *gormProjectRepository) Create(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = r.newID()
	}
	p.Description = r.cleaner.Clean(p.Description)
	return r.db.WithContext(ctx).Create(p).Error
}

// Update 更新项目名称和描述
func (r *gormProjectRepository) Update(ctx context.Context, p *model.Project) error {
	p.Description = r.cleaner.Clean(p.Description)
	result := r.db.WithContext(ctx).Model(&model.Project{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"name":        p.Name,
			"description": p.Description,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID 根据ID获取项目
func (r *gormProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// memoryProjectRepository 内存实现
type memoryProjectRepository struct {
	mu       sync.Mutex
	projects map[string]model.Project
	cleaner  TextCleaner
	newID    func() string
}

// NewMemoryProjectRepository 创建内存项目仓库
func NewMemoryProjectRepository(cleaner TextCleaner, newID func() string) ProjectRepository {
	return &memoryProjectRepository{
		projects: make(map[string]model.Project),
		cleaner:  cleaner,
		newID:    newID,
	}
}

func (r *memoryProjectRepository) Create(ctx context.Context, p *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = r.newID()
	}
	p.Description = r.cleaner.Clean(p.Description)
	r.projects[p.ID] = *p
	return nil
}

func (r *memoryProjectRepository) Update(ctx context.Context, p *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.projects[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.Description = r.cleaner.Clean(p.Description)
	existing.Name = p.Name
	existing.Description = p.Description
	existing.UpdatedAt = time.Now()
	r.projects[p.ID] = existing
	return nil
}

func (r *memoryProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
