package callsession

import (
	"errors"
	"fmt"
)

var (
	// ErrSDKUnavailable is returned when no runtime client can be obtained
	ErrSDKUnavailable = errors.New("call runtime not available")

	// ErrCallAlreadyActive is returned when a call is active or being started
	ErrCallAlreadyActive = errors.New("call is already active")

	// ErrCallAborted is returned when the runtime ends or fails the call
	// while StartCall is still setting it up
	ErrCallAborted = errors.New("call aborted during start")

	// ErrTokenRequestFailed matches every *TokenRequestError
	ErrTokenRequestFailed = errors.New("token request failed")
)

// TokenRequestError reports a non-success response from the token endpoint.
type TokenRequestError struct {
	Status  int
	Message string
}

func (e *TokenRequestError) Error() string {
	return fmt.Sprintf("token request failed (status %d): %s", e.Status, e.Message)
}

func (e *TokenRequestError) Is(target error) bool {
	return target == ErrTokenRequestFailed
}
