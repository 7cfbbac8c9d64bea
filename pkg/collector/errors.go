package collector

import "errors"

var (
	// ErrBusy is returned when a cycle is requested while one is running.
	ErrBusy = errors.New("collection already in progress")

	errInvalidBody      = errors.New("response is not valid json")
	errUnrecognizedBody = errors.New("response has no usage events array")
	errUnparsable       = errors.New("matched record is not an object")
)
