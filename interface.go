package nts

import "github.com/nts-go/nts-go/internal/protocol"

// State is the phase of an NTS client session.
type State = protocol.State

const (
	StateInit                     = protocol.StateInit
	StateKeyExchangeInit          = protocol.StateKeyExchangeInit
	StateKeyExchangeConnecting    = protocol.StateKeyExchangeConnecting
	StateKeyExchangeSending       = protocol.StateKeyExchangeSending
	StateKeyExchangeReceiving     = protocol.StateKeyExchangeReceiving
	StateKeyExchangeDisconnecting = protocol.StateKeyExchangeDisconnecting
	StateResolving                = protocol.StateResolving
	StateNTPInit                  = protocol.StateNTPInit
	StateSending                  = protocol.StateSending
	StateReceiving                = protocol.StateReceiving
	StateComplete                 = protocol.StateComplete
)

// KissCode is the 4-character ASCII code of a Kiss-of-Death response.
type KissCode = protocol.KissCode

const (
	KissCodeDeny      = protocol.KissCodeDeny
	KissCodeRestrict  = protocol.KissCodeRestrict
	KissCodeRate      = protocol.KissCodeRate
	KissCodeCryptoNAK = protocol.KissCodeCryptoNAK
)
