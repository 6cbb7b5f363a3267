package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Persona 一个可切换的陪伴人格
type Persona struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"size:64;uniqueIndex;not null"` // 人格名称（唯一标识）
	DisplayName  string    `json:"displayName" gorm:"size:128"`
	SystemPrompt string    `json:"systemPrompt" gorm:"type:text"` // 系统提示词
	Voice        string    `json:"voice" gorm:"size:64"`          // 首选发音人
	Locale       string    `json:"locale" gorm:"size:20"`
	Theme        string    `json:"theme" gorm:"size:20;default:'aurora'"` // 光球主题
	IsDefault    bool      `json:"isDefault"`
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// CreatePersona 创建人格
func CreatePersona(db *gorm.DB, persona *Persona) error {
	if persona.Name == "" {
		return errors.New("persona name is required")
	}
	return db.Create(persona).Error
}

// GetPersonaByName 按名称查找人格
func GetPersonaByName(db *gorm.DB, name string) (*Persona, error) {
	var persona Persona
	if err := db.Where("name = ?", name).First(&persona).Error; err != nil {
		return nil, err
	}
	return &persona, nil
}

// GetDefaultPersona 获取默认人格，没有标记默认时取最早创建的
func GetDefaultPersona(db *gorm.DB) (*Persona, error) {
	var persona Persona
	err := db.Where("is_default = ?", true).First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Order("created_at asc").First(&persona).Error
	}
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

// ListPersonas 列出全部人格
func ListPersonas(db *gorm.DB) ([]Persona, error) {
	var personas []Persona
	if err := db.Order("created_at asc").Find(&personas).Error; err != nil {
		return nil, err
	}
	return personas, nil
}

// UpdatePersona 更新人格字段
func UpdatePersona(db *gorm.DB, id uint, updates map[string]interface{}) error {
	result := db.Model(&Persona{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeletePersona 删除人格及其会话
func DeletePersona(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var convIDs []string
		if err := tx.Model(&Conversation{}).Where("persona_id = ?", id).
			Pluck("conversation_id", &convIDs).Error; err != nil {
			return err
		}
		if len(convIDs) > 0 {
			if err := tx.Where("conversation_id IN ?", convIDs).Delete(&Message{}).Error; err != nil {
				return err
			}
			if err := tx.Where("persona_id = ?", id).Delete(&Conversation{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&Persona{}, id).Error
	})
}

// defaultPersonas 首次启动时播种的内置人格
var defaultPersonas = []Persona{
	{
		Name:         "vivica",
		DisplayName:  "Vivica",
		SystemPrompt: "You are Vivica, a warm and attentive voice companion. Keep replies short and conversational, as they will be spoken aloud.",
		Locale:       "en-US",
		Theme:        "aurora",
		IsDefault:    true,
	},
	{
		Name:         "sage",
		DisplayName:  "Sage",
		SystemPrompt: "You are Sage, a calm and thoughtful advisor. Answer carefully and concisely; your replies are spoken aloud.",
		Locale:       "en-GB",
		Theme:        "ember",
	},
}

// EnsureDefaultPersonas 播种内置人格，已存在的跳过
func EnsureDefaultPersonas(db *gorm.DB) error {
	for _, p := range defaultPersonas {
		var count int64
		if err := db.Model(&Persona{}).Where("name = ?", p.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("check persona %q: %w", p.Name, err)
		}
		if count > 0 {
			continue
		}
		persona := p
		if err := db.Create(&persona).Error; err != nil {
			return fmt.Errorf("seed persona %q: %w", p.Name, err)
		}
	}
	return nil
}
