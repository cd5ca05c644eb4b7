// internal/models/user.go
package models

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	BaseModel
	Username     string   `json:"username" gorm:"size:50;uniqueIndex;not null"`
	Email        string   `json:"email" gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string   `json:"-" gorm:"size:255;not null"`
	UserType     UserType `json:"user_type" gorm:"type:varchar(20);default:'applicant';index"`

	// Relationships
	Profile *Profile `json:"profile,omitempty" gorm:"foreignKey:UserID"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// Profile stores the applicant-facing information about a User.
type Profile struct {
	BaseModel
	UserID uint   `json:"user_id" gorm:"uniqueIndex;not null"`
	Name   string `json:"name" gorm:"type:text"`
}

// IsComplete reports whether all required profile fields are filled in.
func (p *Profile) IsComplete() bool {
	return p != nil && strings.TrimSpace(p.Name) != ""
}
