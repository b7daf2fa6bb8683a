package dto

import "time"

type TokenRequest struct {
	Username string `json:"username" binding:"required,min=3,max=255"`
	APIKey   string `json:"api_key" binding:"required"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
