package qerr

import "fmt"

// An ErrorCode classifies a failure of the NTS client.
type ErrorCode uint8

const (
	NoError ErrorCode = iota
	InvalidParameter
	OpenFailed
	Timeout
	WouldBlock
	InvalidSyntax
	InvalidProtocol
	UnsupportedAlgo
	WrongCookie
	UnexpectedResponse
	BufferOverflow
	InvalidMessage
	MissingExtension
	RequestRejected
)

// IsFatal says whether an error with this code tears down the session.
// WouldBlock is the only non-fatal code: the caller retries the step later.
func (e ErrorCode) IsFatal() bool {
	return e != NoError && e != WouldBlock
}

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case InvalidParameter:
		return "INVALID_PARAMETER"
	case OpenFailed:
		return "OPEN_FAILED"
	case Timeout:
		return "TIMEOUT"
	case WouldBlock:
		return "WOULD_BLOCK"
	case InvalidSyntax:
		return "INVALID_SYNTAX"
	case InvalidProtocol:
		return "INVALID_PROTOCOL"
	case UnsupportedAlgo:
		return "UNSUPPORTED_ALGO"
	case WrongCookie:
		return "WRONG_COOKIE"
	case UnexpectedResponse:
		return "UNEXPECTED_RESPONSE"
	case BufferOverflow:
		return "BUFFER_OVERFLOW"
	case InvalidMessage:
		return "INVALID_MESSAGE"
	case MissingExtension:
		return "MISSING_EXTENSION"
	case RequestRejected:
		return "REQUEST_REJECTED"
	default:
		return fmt.Sprintf("unknown error code: %d", uint8(e))
	}
}
