package chain

import (
	"errors"
	"fmt"
)

var errNotConnected = errors.New("not connected")

// ConnectivityError indicates a session could not be established after
// exhausting the connect retry policy. Fatal to the caller.
type ConnectivityError struct {
	Chain string
	Err   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Chain, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// TransientQueryError indicates a timeout or transport failure on a query.
// The caller retries the whole cycle without advancing progress.
type TransientQueryError struct {
	Chain string
	Op    string
	Err   error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("%s query failed on %s: %v", e.Op, e.Chain, e.Err)
}

func (e *TransientQueryError) Unwrap() error { return e.Err }

// RangeTooLargeError indicates the requested block span exceeds the
// provider-imposed limit. The caller shrinks the window and retries
// within the same cycle.
type RangeTooLargeError struct {
	Chain string
	From  uint64
	To    uint64
	Limit uint64
}

func (e *RangeTooLargeError) Error() string {
	return fmt.Sprintf("block range [%d, %d] on %s exceeds provider span limit of %d",
		e.From, e.To, e.Chain, e.Limit)
}
