package secrets

import (
	"context"
	"errors"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

func TestStaticProviderSigner(t *testing.T) {
	wallet := solanago.NewWallet()
	p := NewStaticProvider()
	p.Add(wallet.PrivateKey)

	signer, err := p.Signer(context.Background(), wallet.PublicKey().String())
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if !signer.PublicKey().Equals(wallet.PublicKey()) {
		t.Fatalf("public key = %s, want %s", signer.PublicKey(), wallet.PublicKey())
	}
}

func TestStaticProviderUnknownWallet(t *testing.T) {
	p := NewStaticProvider()
	_, err := p.Signer(context.Background(), solanago.NewWallet().PublicKey().String())
	if !errors.Is(err, ErrUnknownWallet) {
		t.Fatalf("expected ErrUnknownWallet, got %v", err)
	}
}

func TestStaticProviderFromBase58(t *testing.T) {
	w1 := solanago.NewWallet()
	w2 := solanago.NewWallet()

	p, err := NewStaticProviderFromBase58([]string{
		w1.PrivateKey.String(),
		w2.PrivateKey.String(),
	})
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}

	for _, w := range []*solanago.Wallet{w1, w2} {
		if _, err := p.Signer(context.Background(), w.PublicKey().String()); err != nil {
			t.Errorf("signer for %s: %v", w.PublicKey(), err)
		}
	}

	if _, err := NewStaticProviderFromBase58([]string{"not-a-key"}); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestSignerSignsTransaction(t *testing.T) {
	wallet := solanago.NewWallet()
	p := NewStaticProvider()
	p.Add(wallet.PrivateKey)

	signer, err := p.Signer(context.Background(), wallet.PublicKey().String())
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{
			system.NewTransferInstruction(
				1_000,
				wallet.PublicKey(),
				solanago.NewWallet().PublicKey(),
			).Build(),
		},
		solanago.Hash{},
		solanago.TransactionPayer(wallet.PublicKey()),
	)
	if err != nil {
		t.Fatalf("build transaction: %v", err)
	}

	if err := signer.Sign(tx); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("signatures = %d, want 1", len(tx.Signatures))
	}
	if tx.Signatures[0].IsZero() {
		t.Fatal("signature is zero")
	}
}
