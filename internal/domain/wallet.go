package domain

import "time"

// Wallet is an account's on-chain identity. The private key is stored
// encrypted at rest and only decrypted for signing.
type Wallet struct {
	AccountID    string
	PublicKey    string
	EncryptedKey []byte
	CreatedAt    time.Time
}
