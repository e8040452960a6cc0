package notes

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthMissing is raised client-side when a private-namespace call is
// attempted with no bearer token. The network is never touched in that case.
var ErrAuthMissing = errors.New("auth token missing for private endpoint")

// TimeoutError is a gateway deadline expiry.
// distinct from a generic network failure so callers can message it differently.
type TimeoutError struct {
	Timeout time.Duration
}

func (self *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %s", self.Timeout)
}

// HttpError is a non-2xx response from the api.
// Code is the optional machine-readable code from the error body.
type HttpError struct {
	Status  int
	Code    string
	Message string
}

func (self *HttpError) Error() string {
	if self.Code != "" {
		return fmt.Sprintf("http %d (%s): %s", self.Status, self.Code, self.Message)
	}
	return fmt.Sprintf("http %d: %s", self.Status, self.Message)
}

// TransportError is a realtime channel failure. It drives reconnection inside
// the channel and is never surfaced to subscribers.
type TransportError struct {
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("realtime transport: %s", self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// StaleRollbackTargetError marks a rollback snapshot for a key that was never
// fetched. The rollback skips that key rather than writing absence.
type StaleRollbackTargetError struct {
	Key QueryKey
}

func (self *StaleRollbackTargetError) Error() string {
	return fmt.Sprintf("stale rollback target %s", self.Key)
}
