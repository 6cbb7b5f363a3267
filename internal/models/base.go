package models

import "gorm.io/gorm"

// Migrate 迁移全部模型
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Persona{},
		&Conversation{},
		&Message{},
		&MemoryEntry{},
	)
}
