package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the registry.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned when submitting work to a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrNamespaceNotFound is returned when an explicit namespace cannot be resolved.
var ErrNamespaceNotFound = errors.New("namespace not found")

// ErrUnknownEvaluator is returned when a message names an evaluator that is not registered.
var ErrUnknownEvaluator = errors.New("unknown evaluator")
