package app

import "errors"

var (
	ErrNotAuthenticated     = errors.New("no stored credentials and no login configured")
	ErrAuthenticationFailed = errors.New("dashboard authentication failed")
	ErrSignedOut            = errors.New("signed out")
	ErrReasonRequired       = errors.New("a rejection reason is required")
)
