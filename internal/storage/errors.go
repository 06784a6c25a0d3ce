package storage

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidData          = errors.New("invalid data")
	ErrStorageInit          = errors.New("storage initialization failed")
)
