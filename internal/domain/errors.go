package domain

import (
	"errors"
)

// Simulation error kinds. The simulator loop classifies every failure as one
// of these; nothing inside the loop propagates out.
var (
	ErrAlreadyRunning    = errors.New("simulation already running")
	ErrNotRunning        = errors.New("simulation not running")
	ErrConfigInvalid     = errors.New("configuration invalid")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrSendFailed        = errors.New("send failed")
	ErrPayloadGeneration = errors.New("payload generation failed")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrDeviceSelfStopped = errors.New("device self-stopped after consecutive error limit")
)
