package dto

// LogoutRequest revokes a refresh token of the caller.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}
