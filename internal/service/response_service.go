package service

import (
	"errors"
	"time"
)

// ErrBadFilter is returned for filters the cycle log cannot serve.
var ErrBadFilter = errors.New("bad filter")

// LogFilter selects cycle log entries by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "CYCLE", "CONNECT_FAILED", "ERROR"
}
