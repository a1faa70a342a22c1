package tools

import "errors"

// Sentinel errors for the tool directory.
var (
	ErrUnknownTool      = errors.New("no tool provider registered for name")
	ErrInvalidArguments = errors.New("arguments do not match tool schema")
	ErrEmptyName        = errors.New("tool name is empty")
)
