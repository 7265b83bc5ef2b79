package db

import (
	"errors"

	"schemascan/pkg/config"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported database type")
	ErrInvalidConfig      = config.ErrInvalid
	ErrConnectionFailed   = errors.New("failed to connect to database")
	ErrNotConnected       = errors.New("extractor is not connected")
)
