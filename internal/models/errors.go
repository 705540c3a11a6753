package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrStoryNotFound = errors.New("story not found")
	ErrTurnNotFound  = errors.New("turn not found")

	// Turn Submission Errors
	ErrInvalidContent = errors.New("turn content is empty or exceeds the allowed length")
	ErrNotYourTurn    = errors.New("it is not this participant's turn")
	ErrTurnConflict   = errors.New("turn number conflict, retries exhausted")
	ErrNoParticipants = errors.New("story has no participants")

	// AI Pipeline Errors (никогда не всплывают к человеческому запросу)
	ErrGenerationFailed      = errors.New("text generation failed")
	ErrImageGenerationFailed = errors.New("image generation failed")

	// Token Errors
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenInvalid   = errors.New("token is invalid")

	// General Request/Server Errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)
