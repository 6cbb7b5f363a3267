package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色常量
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation 一次与某个人格的对话
type Conversation struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversationId" gorm:"size:64;uniqueIndex;not null"`
	PersonaID      uint      `json:"personaId" gorm:"index"`
	Persona        Persona   `json:"persona,omitempty" gorm:"foreignKey:PersonaID"`
	Title          string    `json:"title" gorm:"size:200"`
	CreatedAt      time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// Message 对话中的一条消息
type Message struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversationId" gorm:"size:64;index;not null"`
	Role           string    `json:"role" gorm:"size:20;not null"` // user / assistant / system
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// CreateConversation 新建对话并分配会话ID
func CreateConversation(db *gorm.DB, personaID uint, title string) (*Conversation, error) {
	conv := &Conversation{
		ConversationID: uuid.NewString(),
		PersonaID:      personaID,
		Title:          title,
	}
	if err := db.Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation 按会话ID查找对话
func GetConversation(db *gorm.DB, conversationID string) (*Conversation, error) {
	var conv Conversation
	if err := db.Where("conversation_id = ?", conversationID).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListRecentConversations 按更新时间倒序列出最近的对话
func ListRecentConversations(db *gorm.DB, personaID uint, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var convs []Conversation
	query := db.Order("updated_at desc").Limit(limit)
	if personaID > 0 {
		query = query.Where("persona_id = ?", personaID)
	}
	if err := query.Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// AppendMessage 追加一条消息并刷新对话的更新时间
func AppendMessage(db *gorm.DB, conversationID, role, content string) (*Message, error) {
	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("conversation_id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessages 按时间顺序取对话消息，limit>0 时只取最近的limit条
func GetMessages(db *gorm.DB, conversationID string, limit int) ([]Message, error) {
	var msgs []Message
	query := db.Where("conversation_id = ?", conversationID).Order("id asc")
	if limit > 0 {
		var total int64
		if err := db.Model(&Message{}).Where("conversation_id = ?", conversationID).
			Count(&total).Error; err != nil {
			return nil, err
		}
		if int(total) > limit {
			query = query.Offset(int(total) - limit)
		}
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteConversation 删除对话及其全部消息
func DeleteConversation(db *gorm.DB, conversationID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&Conversation{}).Error
	})
}
