package crypto

import (
	"context"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	blob, err := EncryptKey(key.String(), "correct horse battery staple")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if strings.Contains(string(blob), key.String()) {
		t.Fatal("blob contains the plaintext key")
	}

	got, err := DecryptKey(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got.String() != key.String() {
		t.Fatalf("decrypted key = %s, want %s", got, key)
	}
	if !got.PublicKey().Equals(key.PublicKey()) {
		t.Fatal("decrypted key derives a different public key")
	}
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	blob, err := EncryptKey(key.String(), "right")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected decryption with the wrong password to fail")
	}
}

func TestEncryptKey_RejectsBadInput(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	if _, err := EncryptKey(key.String(), ""); err == nil {
		t.Fatal("expected an error for an empty password")
	}
	if _, err := EncryptKey("not-base58-!!!", "pw"); err == nil {
		t.Fatal("expected an error for invalid base58")
	}
	// A 32-byte seed is not a full keypair.
	short := base58.Encode(make([]byte, 32))
	if _, err := EncryptKey(short, "pw"); err == nil {
		t.Fatal("expected an error for a short key")
	}
}

func TestDecryptKey_RejectsUnknownVersion(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	blob, err := EncryptKey(key.String(), "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	tampered := strings.Replace(string(blob), `"version":1`, `"version":2`, 1)
	if _, err := DecryptKey([]byte(tampered), "pw"); err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestEncryptKey_SaltsAreUnique(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	a, err := EncryptKey(key.String(), "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	b, err := EncryptKey(key.String(), "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if string(a) == string(b) {
		t.Fatal("two encryptions of the same key produced identical blobs")
	}
}

type memWalletStore struct {
	wallets map[string]domain.Wallet
}

func (s *memWalletStore) Create(ctx context.Context, w domain.Wallet) error {
	if _, ok := s.wallets[w.AccountID]; ok {
		return domain.ErrAlreadyExists
	}
	s.wallets[w.AccountID] = w
	return nil
}

func (s *memWalletStore) Get(ctx context.Context, accountID string) (domain.Wallet, error) {
	w, ok := s.wallets[accountID]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *memWalletStore) Delete(ctx context.Context, accountID string) error {
	delete(s.wallets, accountID)
	return nil
}

func TestKeyManager_CreateThenSign(t *testing.T) {
	ctx := context.Background()
	store := &memWalletStore{wallets: make(map[string]domain.Wallet)}
	km := NewKeyManager(store, "vault password")

	pubkey, err := km.CreateWallet(ctx, "acct-1")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	key, err := km.SigningKey(ctx, "acct-1")
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	if key.PublicKey().String() != pubkey {
		t.Fatalf("signing key public = %s, want %s", key.PublicKey(), pubkey)
	}
}

func TestKeyManager_UnknownAccount(t *testing.T) {
	store := &memWalletStore{wallets: make(map[string]domain.Wallet)}
	km := NewKeyManager(store, "pw")

	if _, err := km.SigningKey(context.Background(), "nobody"); err == nil {
		t.Fatal("expected an error for an unknown account")
	}
}
