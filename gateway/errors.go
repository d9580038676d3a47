package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying the broad kind of failure a shard ran into.
// Call sites use errors.Is against these instead of matching on strings,
// mirroring the GatewayError enum in the source this client was ported from.
var (
	ErrTransport       = errors.New("gateway: transport error")
	ErrDecode          = errors.New("gateway: decode error")
	ErrDecompress      = errors.New("gateway: decompression error")
	ErrStore           = errors.New("gateway: resume-state store error")
	ErrReceiverHungUp  = errors.New("gateway: receiver hung up")
	ErrWorker          = errors.New("gateway: worker reported failure")
	ErrGatewayAbsent   = errors.New("gateway: no gateway endpoint configured")
	ErrMissingOpcode   = fmt.Errorf("%w: missing \"op\" field", ErrDecode)
)

// AuthenticationError is fatal: the caller must not attempt to reconnect
// without operator intervention (bad token, disallowed intents, ...).
type AuthenticationError struct {
	BotToken  string
	CloseCode int
	Reason    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("gateway: authentication error (close code %d): %s", e.CloseCode, e.Reason)
}

// WorkerError wraps the error string a downstream worker returned in its
// {success:false} response body.
type WorkerError struct {
	Reason string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("gateway: worker error: %s", e.Reason)
}

func (e *WorkerError) Unwrap() error {
	return ErrWorker
}

func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}
