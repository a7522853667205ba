package crypto

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// KeyManager resolves signing keys for accounts by loading the encrypted
// wallet row and decrypting it with the configured password. Decrypted keys
// are never cached.
type KeyManager struct {
	wallets  domain.WalletStore
	password string
}

// NewKeyManager builds a KeyManager over the given wallet store.
func NewKeyManager(wallets domain.WalletStore, password string) *KeyManager {
	return &KeyManager{wallets: wallets, password: password}
}

// SigningKey returns the decrypted keypair for the account.
func (m *KeyManager) SigningKey(ctx context.Context, accountID string) (solana.PrivateKey, error) {
	w, err := m.wallets.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("crypto: loading wallet for %s: %w", accountID, err)
	}
	key, err := DecryptKey(w.EncryptedKey, m.password)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: %v", domain.ErrSigningFailed, err)
	}
	return key, nil
}

// CreateWallet generates a keypair for the account, persists it encrypted,
// and returns the public key.
func (m *KeyManager) CreateWallet(ctx context.Context, accountID string) (string, error) {
	pubkey, blob, err := GenerateWallet(m.password)
	if err != nil {
		return "", err
	}
	w := domain.Wallet{
		AccountID:    accountID,
		PublicKey:    pubkey,
		EncryptedKey: blob,
	}
	if err := m.wallets.Create(ctx, w); err != nil {
		return "", fmt.Errorf("crypto: storing wallet for %s: %w", accountID, err)
	}
	return pubkey, nil
}
