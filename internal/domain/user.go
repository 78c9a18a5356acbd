package domain

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	UserID       string    `json:"id" dynamodbav:"user_id"`
	Username     string    `json:"username" dynamodbav:"username"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Role         string    `json:"role" dynamodbav:"role"`
	Enable       int       `json:"enable" dynamodbav:"enable"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

// ChannelBinding links an account to the Telegram chat that confirms its requests.
// PK: username. GSI: chat_id.
type ChannelBinding struct {
	Username string    `json:"username" dynamodbav:"username"`
	ChatID   string    `json:"chat_id" dynamodbav:"chat_id"`
	BoundAt  time.Time `json:"bound_at" dynamodbav:"bound_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}
