package services

import "errors"

var (
	// Runner-fatal planning errors. A run that hits one of these executes nothing.
	ErrTaskCycle          = errors.New("task dependencies form a cycle")
	ErrUnknownDependency  = errors.New("task depends on an unknown task")
	ErrDuplicateTask      = errors.New("task name declared twice")
	ErrInvalidTransition  = errors.New("invalid challenge status transition")
	ErrAlreadyCredited    = errors.New("award already credited to wallet")
	ErrInvalidCredit      = errors.New("invalid wallet credit")
	ErrMetricKindMismatch = errors.New("stat metric kind mismatch")
)
