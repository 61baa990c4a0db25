package models

import "strings"

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusQueued indicates the request was accepted and will be processed asynchronously.
	APIStatusQueued APIStatus = "queued"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Queued creates an API response for work handed to a background goroutine.
func Queued(message string) APIResponse {
	return APIResponse{Status: string(APIStatusQueued), Message: message}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// SendMessageRequest is the payload of POST /v1/messages.
type SendMessageRequest struct {
	Number   string `json:"number"`
	Message  string `json:"message"`
	URLMedia string `json:"urlMedia,omitempty"`
}

// Validate checks the request has a recipient and something to send.
func (r *SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return ErrEmptyRecipient
	}
	if strings.TrimSpace(r.Message) == "" && strings.TrimSpace(r.URLMedia) == "" {
		return ErrEmptyBody
	}
	if len(r.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// RegisterRequest is the payload of POST /v1/register.
type RegisterRequest struct {
	Number string `json:"number"`
}

// Validate checks the request has a number.
func (r *RegisterRequest) Validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return ErrEmptyRecipient
	}
	return nil
}

// BlacklistIntent selects the blacklist operation.
type BlacklistIntent string

const (
	BlacklistAdd    BlacklistIntent = "add"
	BlacklistRemove BlacklistIntent = "remove"
)

// BlacklistRequest is the payload of POST /v1/blacklist.
type BlacklistRequest struct {
	Number string          `json:"number"`
	Intent BlacklistIntent `json:"intent"`
}

// Validate checks the number and intent.
func (r *BlacklistRequest) Validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return ErrEmptyRecipient
	}
	switch r.Intent {
	case BlacklistAdd, BlacklistRemove:
		return nil
	default:
		return ErrInvalidIntent
	}
}
