package service

import "errors"

// Expected failure outcomes of core operations. Handlers map these to HTTP
// statuses; anything not in this list is an internal fault.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrForbidden           = errors.New("not the owner of this resource")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProviderUnavailable = errors.New("generation provider unavailable")
	ErrJobNotFound         = errors.New("job not found")
	ErrUnknownPayment      = errors.New("no payment recorded for this session")
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
)
