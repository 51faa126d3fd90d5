// Package wallet validates and normalizes Solana wallet addresses taken from
// request paths.
package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	minAddressLen = 32
	maxAddressLen = 44
)

// Validate checks that addr is a plausible base58 Solana public key.
func Validate(addr string) error {
	if l := len(addr); l < minAddressLen || l > maxAddressLen {
		return fmt.Errorf("wallet address length %d outside [%d,%d]", l, minAddressLen, maxAddressLen)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("wallet address is not base58: %w", err)
	}
	if len(raw) != solana.PublicKeyLength {
		return fmt.Errorf("wallet address decodes to %d bytes, want %d", len(raw), solana.PublicKeyLength)
	}
	return nil
}

// Normalize validates addr and returns its canonical public key form.
func Normalize(addr string) (solana.PublicKey, error) {
	if err := Validate(addr); err != nil {
		return solana.PublicKey{}, err
	}
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parse wallet address: %w", err)
	}
	return pk, nil
}

// Redact shortens a wallet for log lines.
func Redact(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "…" + addr[len(addr)-4:]
}
