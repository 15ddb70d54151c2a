package repository

import (
	"gorm.io/gorm"
)

// Repositories groups every repository the HTTP layer needs.
type Repositories struct {
	User    UserRepository
	Account AccountRepository
}

// NewRepositories builds all repositories on one DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Account: NewAccountRepository(db),
	}
}
