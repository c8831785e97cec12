package models

import "errors"

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrRunNotFound    = errors.New("monitoring run not found")
	ErrRunFinished    = errors.New("monitoring run already finished")
	ErrRunInProgress  = errors.New("reconciliation run already in progress")
	ErrUnknownJob     = errors.New("unknown reconciliation job")
)
