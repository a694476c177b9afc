package config

import "time"

type ClientConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetLoginPage() string
	GetHomePage() string
}

type Client struct{}

var _ ClientConfig = Client{}

func (Client) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "http://localhost:8080")
}

func (Client) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
}

// GetLoginPage is where the user is sent once the session has been destroyed
func (Client) GetLoginPage() string {
	return GetEnv("LOGIN_PAGE", "/login")
}

func (Client) GetHomePage() string {
	return GetEnv("HOME_PAGE", "/dashboard")
}
