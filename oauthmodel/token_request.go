package oauthmodel

// LoginRequest is the body posted to the login endpoint.
type LoginRequest struct {
	// Email identifies the user.
	// Example: "john.doe@example.com"
	Email string `json:"email" validate:"required"`

	// Password is the user's plain text password.
	// Security: Never log or expose this value
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the body posted to the refresh endpoint.
type RefreshRequest struct {
	// RefreshToken is exchanged for a new access token.
	// Example: "tGzv3JOkF0XG5Qx2TlKWIA"
	// Behavior: The server may rotate it, in which case the response carries a new one
	RefreshToken string `json:"refresh_token" validate:"required"`
}
