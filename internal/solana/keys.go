package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program addresses.
const (
	// SystemProgramID is the native system program.
	SystemProgramID = "11111111111111111111111111111111"

	// TokenProgramID is the original SPL token custody program.
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// Token2022ProgramID is the extension-capable token custody program.
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"

	// AssociatedTokenProgramID derives canonical per-wallet token accounts.
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

	// WSOLMint is wrapped SOL.
	WSOLMint = "So11111111111111111111111111111111111111112"
)

// ValidateAddress checks that s is a base58-encoded 32-byte public key.
func ValidateAddress(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address is %d bytes, want 32", len(raw))
	}
	return nil
}

// IsOnCurve reports whether a 32-byte point lies on the ed25519 curve.
// Program-derived addresses must be off-curve so no private key exists.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// FindProgramAddress derives the canonical program-derived address for the
// given seeds, searching bump seeds downward from 255 for the first
// off-curve result.
func FindProgramAddress(seeds [][]byte, programID string) (string, byte, error) {
	program, err := base58.Decode(programID)
	if err != nil {
		return "", 0, fmt.Errorf("decode program id: %w", err)
	}
	if len(program) != 32 {
		return "", 0, fmt.Errorf("program id is %d bytes, want 32", len(program))
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !IsOnCurve(hash[:]) {
			return base58.Encode(hash[:]), bump, nil
		}
	}

	return "", 0, fmt.Errorf("no off-curve address for seeds")
}

// DeriveAssociatedTokenAccount derives the canonical token account holding
// wallet's balance of mint under the given custody program. Both
// TokenProgramID and Token2022ProgramID are valid custody programs; a
// wallet's balance may live under either.
func DeriveAssociatedTokenAccount(wallet, mint, tokenProgramID string) (string, error) {
	walletRaw, err := base58.Decode(wallet)
	if err != nil || len(walletRaw) != 32 {
		return "", fmt.Errorf("invalid wallet address %q", wallet)
	}
	mintRaw, err := base58.Decode(mint)
	if err != nil || len(mintRaw) != 32 {
		return "", fmt.Errorf("invalid mint address %q", mint)
	}
	programRaw, err := base58.Decode(tokenProgramID)
	if err != nil || len(programRaw) != 32 {
		return "", fmt.Errorf("invalid token program id %q", tokenProgramID)
	}

	addr, _, err := FindProgramAddress(
		[][]byte{walletRaw, programRaw, mintRaw},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return "", fmt.Errorf("derive associated token account: %w", err)
	}
	return addr, nil
}
