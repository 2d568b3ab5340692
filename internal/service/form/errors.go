package form

import "errors"

var (
	ErrTemplateNotFound = errors.New("form template not found")
	ErrInvalidTemplate  = errors.New("invalid form template")
	ErrInvalidSignature = errors.New("invalid signature image")
)
