package nts

import "github.com/nts-go/nts-go/internal/qerr"

type (
	// An Error carries an ErrorCode and an optional message.
	Error = qerr.Error
	// An ErrorCode classifies a failure of the NTS client.
	ErrorCode = qerr.ErrorCode
)

const (
	InvalidParameter   = qerr.InvalidParameter
	OpenFailed         = qerr.OpenFailed
	Timeout            = qerr.Timeout
	WouldBlock         = qerr.WouldBlock
	InvalidSyntax      = qerr.InvalidSyntax
	InvalidProtocol    = qerr.InvalidProtocol
	UnsupportedAlgo    = qerr.UnsupportedAlgo
	WrongCookie        = qerr.WrongCookie
	UnexpectedResponse = qerr.UnexpectedResponse
	BufferOverflow     = qerr.BufferOverflow
	InvalidMessage     = qerr.InvalidMessage
	MissingExtension   = qerr.MissingExtension
	RequestRejected    = qerr.RequestRejected
)

var (
	// ErrWouldBlock is returned by Step when no progress can be made yet.
	// It is the only non-fatal error: the caller retries the step later.
	ErrWouldBlock = qerr.ErrWouldBlock
	// ErrTimeout is returned once a phase or exchange deadline has passed.
	ErrTimeout = qerr.ErrTimeout
)
