package app

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrFileTooLarge     = errors.New("file too large")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrDocumentNotReady = errors.New("document not ready for queries")
)
