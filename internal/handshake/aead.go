package handshake

import (
	"crypto/cipher"

	"github.com/secure-io/siv-go"

	"github.com/nts-go/nts-go/internal/protocol"
	"github.com/nts-go/nts-go/internal/qerr"
)

// NewAEAD returns the AES-SIV-CMAC-256 cipher for a 32-byte NTS key.
// The same construction protects requests (C2S key) and responses (S2C key).
func NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != protocol.KeySize {
		return nil, qerr.NewErrorf(qerr.InvalidParameter, "AEAD key must be %d bytes", protocol.KeySize)
	}
	aead, err := siv.NewCMAC(key)
	if err != nil {
		return nil, qerr.NewErrorf(qerr.OpenFailed, "creating AES-SIV-CMAC cipher: %s", err)
	}
	return aead, nil
}
