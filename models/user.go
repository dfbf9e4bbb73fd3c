package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is a reviewer or admin account on the review console.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('A', 'R');default:R" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Email    string   `json:"email"`
	Password string   `json:"password" binding:"required"`
	IsActive *bool    `json:"is_active"`
	Role     UserRole `json:"role"`
}

/*
caches:
	User:$username
	Token:$token
	Tokens:$username (set)
*/

func (user User) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return err
	}
	return nil
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := utils.ValidateUnique[User](ctx, "username", input.Username, 0); err != nil {
		return nil, err
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, utils.NewValidationError("email", "invalid email")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = UserRoleReviewer
	}
	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}

	user := User{
		Username: input.Username,
		Name:     input.Name,
		Password: string(hashed),
		IsActive: isActive,
		Role:     role,
	}
	if input.Email != "" {
		user.Email = &input.Email
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User

	// redis first
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	_ = config.SetRedisObject("User:"+username, user, utils.GetCacheLifespan())
	return &user, nil
}

// Login verifies credentials and issues a session token stored in redis.
func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.New("invalid username or password")
	}
	if user.IsActive == nil || !*user.IsActive {
		return nil, errors.New("account is disabled")
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return nil, errors.New("invalid username or password")
		}
		return nil, err
	}

	token := uuid.NewString()
	lifespan := tokenLifespan()
	if err := config.SetRedisValue("Token:"+token, user.Username, lifespan); err != nil {
		return nil, err
	}
	if err := config.AddRedisSet("Tokens:"+user.Username, token); err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token: token,
		Name:  user.Name,
		Role:  user.Role.Name(),
	}, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + fmt.Sprint(token))
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}
