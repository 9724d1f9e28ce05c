package domain

import "errors"

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrInvalidIntent    = errors.New("invalid intent")
	ErrEmptyUpload      = errors.New("empty upload")
	ErrFileNotFound     = errors.New("file not found")
)
