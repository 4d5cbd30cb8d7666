package domain

import "errors"

// ErrNotFound is returned by repo functions when the requested document
// does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrVendorUnavailable is returned for any transport failure or non-2xx
// response from the trace server. Terminal for the run; the caller decides
// retry policy.
var ErrVendorUnavailable = errors.New("vendor unavailable")

// ErrLoginFailed is returned when the trace server denies authorization
// (HTTP 403). Surfaced distinctly so the caller can prompt for
// re-authentication instead of retrying with the same token.
var ErrLoginFailed = errors.New("login failed")
