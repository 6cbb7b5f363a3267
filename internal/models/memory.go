package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemoryEntry 跨会话保留的键值记忆（用户名字、偏好等）
type MemoryEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"size:128;uniqueIndex;not null"`
	Value     string    `json:"value" gorm:"type:text"`
	Source    string    `json:"source" gorm:"size:64"` // 记忆来源（对话ID、widget等）
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// SetMemory 写入或覆盖一条记忆
func SetMemory(db *gorm.DB, key, value, source string) error {
	if key == "" {
		return errors.New("memory key is required")
	}
	entry := MemoryEntry{Key: key, Value: value, Source: source}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "source", "updated_at"}),
	}).Create(&entry).Error
}

// GetMemory 读取一条记忆，不存在时返回 gorm.ErrRecordNotFound
func GetMemory(db *gorm.DB, key string) (*MemoryEntry, error) {
	var entry MemoryEntry
	if err := db.Where("key = ?", key).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListMemories 按更新时间倒序列出记忆
func ListMemories(db *gorm.DB, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []MemoryEntry
	if err := db.Order("updated_at desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteMemory 删除一条记忆，键不存在时为空操作
func DeleteMemory(db *gorm.DB, key string) error {
	return db.Where("key = ?", key).Delete(&MemoryEntry{}).Error
}
