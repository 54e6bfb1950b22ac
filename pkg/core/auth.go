package core

import (
	"crypto/subtle"
	"strings"
	"time"
)

// SecureCompareString performs constant-time string comparison
func SecureCompareString(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var weakTokens = []string{
	"password", "secret", "token", "admin", "test", "default",
	"12345", "123456", "password123", "secret123", "admin123",
}

// ValidateAuthToken rejects empty, short and obviously weak tokens for the HTTP transport
func ValidateAuthToken(token string) error {
	if token == "" {
		return NewError(ErrInvalidParameter, "Authentication token cannot be empty").
			WithGuidance("Provide a valid authentication token for security.")
	}

	if len(token) < 16 {
		return NewError(ErrInvalidParameter, "Authentication token is too short").
			WithGuidance("Use a token with at least 16 characters for security.")
	}

	lowerToken := strings.ToLower(token)
	for _, weak := range weakTokens {
		if strings.Contains(lowerToken, weak) {
			return NewError(ErrInvalidParameter, "Authentication token appears to be weak").
				WithGuidance("Use a randomly generated, strong authentication token.")
		}
	}

	return nil
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Authorized bool
	Error      string
	Duration   time.Duration
}

// authResult builds an AuthResult and pads the call by a millisecond so
// failures and successes take comparable time.
func authResult(start time.Time, errMsg string) AuthResult {
	time.Sleep(time.Millisecond)
	return AuthResult{
		Authorized: errMsg == "",
		Error:      errMsg,
		Duration:   time.Since(start),
	}
}

// AuthenticateBearer checks an "Authorization: Bearer <token>" header
func AuthenticateBearer(authHeader, expectedToken string) AuthResult {
	start := time.Now()

	if authHeader == "" {
		return authResult(start, "Missing Authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" {
		return authResult(start, "Invalid Authorization header format")
	}

	if !SecureCompareString(token, expectedToken) {
		return authResult(start, "Invalid bearer token")
	}

	return authResult(start, "")
}

// AuthenticateBasic checks basic auth credentials against "user:password"
func AuthenticateBasic(username, password, expectedCredentials string) AuthResult {
	start := time.Now()

	if username == "" || password == "" {
		return authResult(start, "Missing basic auth credentials")
	}

	if !SecureCompareString(username+":"+password, expectedCredentials) {
		return authResult(start, "Invalid basic auth credentials")
	}

	return authResult(start, "")
}
