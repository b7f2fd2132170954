package protocol

import "fmt"

// State is the phase of an NTS client session. States advance linearly,
// with a single loop from StateReceiving back to StateSending on a
// retransmission timeout.
type State uint8

const (
	StateInit State = iota
	StateKeyExchangeInit
	StateKeyExchangeConnecting
	StateKeyExchangeSending
	StateKeyExchangeReceiving
	StateKeyExchangeDisconnecting
	StateResolving
	StateNTPInit
	StateSending
	StateReceiving
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateKeyExchangeInit:
		return "nts_ke_init"
	case StateKeyExchangeConnecting:
		return "nts_ke_connecting"
	case StateKeyExchangeSending:
		return "nts_ke_sending"
	case StateKeyExchangeReceiving:
		return "nts_ke_receiving"
	case StateKeyExchangeDisconnecting:
		return "nts_ke_disconnecting"
	case StateResolving:
		return "ntp_resolving"
	case StateNTPInit:
		return "ntp_init"
	case StateSending:
		return "ntp_sending"
	case StateReceiving:
		return "ntp_receiving"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown state: %d", s)
	}
}
