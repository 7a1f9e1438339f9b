package database

import (
	"gorm.io/gorm"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.User{})
}
