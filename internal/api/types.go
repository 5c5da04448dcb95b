package api

import "time"

// AnnotatorAuthRequest represents the request payload for annotator authentication
type AnnotatorAuthRequest struct {
	Name      string `json:"name" validate:"required"`
	AccessKey string `json:"access_key" validate:"required"`
}

// AnnotatorAuthResponse represents the response payload for annotator authentication
type AnnotatorAuthResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AnnotatorID string    `json:"annotator_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
