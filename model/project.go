package model

import "time"

// Project 合作所属的项目，描述字段会经过敏感词过滤
type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID     int64     `json:"ownerId" gorm:"index"`
	Name        string    `json:"name" gorm:"size:200;not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}
