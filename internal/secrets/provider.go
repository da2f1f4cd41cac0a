package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
)

// ErrUnknownWallet marks a signer request for a wallet this provider does not
// hold a key for.
var ErrUnknownWallet = errors.New("unknown wallet")

// Signer is a signing capability for one wallet. Callers receive it per
// liquidation call and must not retain it.
type Signer interface {
	PublicKey() solanago.PublicKey
	Sign(tx *solanago.Transaction) error
}

// Provider hands out signing capabilities by wallet address. The engine never
// sees or persists raw key material beyond the returned capability.
type Provider interface {
	Signer(ctx context.Context, wallet string) (Signer, error)
}

type keySigner struct {
	key solanago.PrivateKey
}

func (s keySigner) PublicKey() solanago.PublicKey { return s.key.PublicKey() }

func (s keySigner) Sign(tx *solanago.Transaction) error {
	_, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign for %s: %w", s.key.PublicKey(), err)
	}
	return nil
}

// StaticProvider holds decrypted keys in memory, keyed by their public
// address. It stands in for the external secrets service, which hands the
// engine already-decrypted key material.
type StaticProvider struct {
	mu   sync.RWMutex
	keys map[string]solanago.PrivateKey
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{keys: make(map[string]solanago.PrivateKey)}
}

// NewStaticProviderFromBase58 loads base58-encoded private keys.
func NewStaticProviderFromBase58(encoded []string) (*StaticProvider, error) {
	p := NewStaticProvider()
	for i, e := range encoded {
		key, err := solanago.PrivateKeyFromBase58(e)
		if err != nil {
			return nil, fmt.Errorf("decode key %d: %w", i, err)
		}
		p.Add(key)
	}
	return p, nil
}

// Add registers a key under its public address.
func (p *StaticProvider) Add(key solanago.PrivateKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key.PublicKey().String()] = key
}

// Signer returns the signing capability for wallet.
func (p *StaticProvider) Signer(_ context.Context, wallet string) (Signer, error) {
	p.mu.RLock()
	key, ok := p.keys[wallet]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, wallet)
	}
	return keySigner{key: key}, nil
}
