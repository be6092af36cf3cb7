package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleStaff UserRole = "staff"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"password,omitempty"`
	Role      UserRole  `gorm:"size:16;not null;default:staff" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" validate:"required,min=3,max=100"`
	Name     string   `json:"name" validate:"required"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     UserRole `json:"role" validate:"required,oneof=admin staff"`
}

type LoginInfo struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

/*
caches:
	User:$username
	Token:$token -> username
*/

func userCacheKey(username string) string {
	return "User:" + username
}

func tokenCacheKey(token string) string {
	return "Token:" + token
}

func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

func (u *User) PrepareGive() {
	u.Password = ""
}

func (u User) RemoveInstanceRedis(ctx context.Context) error {
	return config.RemoveRedisKey(ctx, userCacheKey(u.Username))
}

// GetUserByUsername reads through the User:<username> cache.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject(ctx, userCacheKey(username), &user)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "GetUserByUsername", "redis get", username, err)
	}
	if exists {
		return &user, nil
	}
	db := config.GetDB().WithContext(ctx)
	if err := db.Where("username = ?", username).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := config.SetRedisObject(ctx, userCacheKey(username), &user, utils.TokenLifespan()); err != nil {
		config.LogError(config.GetLogger(), "models", "GetUserByUsername", "redis set", username, err)
	}
	return &user, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	username = strings.TrimSpace(username)
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.New("invalid username or password")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, errors.New("invalid username or password")
	}
	if !utils.DereferencePtr(user.IsActive, false) {
		return nil, errors.New("user is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}
	lifespan := utils.TokenLifespan()
	if err := config.SetRedisValue(ctx, tokenCacheKey(token), user.Username, lifespan); err != nil {
		return nil, err
	}
	return &LoginInfo{
		Token:     token,
		Name:      user.Name,
		Role:      user.Role,
		ExpiresAt: time.Now().Add(lifespan),
	}, nil
}

// Logout destroys the current session.
func Logout(ctx context.Context) error {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return errors.New("token is required")
	}
	return config.RemoveRedisKey(ctx, tokenCacheKey(token))
}

// SessionUsername resolves a token stored by Login. ok is false for unknown or expired tokens.
// Without redis the token is trusted on its JWT signature alone.
func SessionUsername(ctx context.Context, token string) (string, bool, error) {
	if config.GetRedisDB() == nil {
		return "", true, nil
	}
	return config.GetRedisValue(ctx, tokenCacheKey(token))
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var count int64
	email := input.Email
	username := html.EscapeString(input.Username)
	q := db.Model(&User{}).Where("username = ?", username)
	if email != "" {
		q = q.Or("email = ?", email)
	}
	if err := q.Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("duplicate username or email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := User{
		Username: username,
		Name:     input.Name,
		Email:    utils.StringPtr(email),
		Password: string(hashedPassword),
		Role:     input.Role,
		IsActive: utils.NewTrue(),
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

// SetUserPassword rehashes the password of an existing user and drops the cached copy.
func SetUserPassword(ctx context.Context, username string, password string) error {
	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	db := config.GetDB().WithContext(ctx)
	res := db.Model(&User{}).Where("username = ?", username).Update("password", string(hashedPassword))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return User{Username: username}.RemoveInstanceRedis(ctx)
}
