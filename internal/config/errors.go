package config

import "errors"

var (
	// ErrConfigNotFound is returned when no config file exists at the
	// requested path.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInsecurePermissions is returned when a config file is
	// readable by group or others.
	ErrInsecurePermissions = errors.New("config file has insecure permissions")
)
