package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

type stubWallets struct {
	pubkey      string
	tx          string
	createErr   error
	transferErr error
	gotAcct     string
	gotTo       string
	gotLamports uint64
}

func (s *stubWallets) Create(ctx context.Context, accountID string) (string, error) {
	s.gotAcct = accountID
	return s.pubkey, s.createErr
}

func (s *stubWallets) Transfer(ctx context.Context, accountID, recipient string, lamports uint64) (string, error) {
	s.gotAcct = accountID
	s.gotTo = recipient
	s.gotLamports = lamports
	return s.tx, s.transferErr
}

func TestCreateWallet_ReturnsPubkey(t *testing.T) {
	svc := &stubWallets{pubkey: "PubKey1111"}
	h := NewWalletHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/wallets", strings.NewReader(`{"account":"acct-1"}`))
	h.CreateWallet(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if svc.gotAcct != "acct-1" {
		t.Fatalf("created for %q, want acct-1", svc.gotAcct)
	}
	var body struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Pubkey != "PubKey1111" {
		t.Fatalf("pubkey = %q", body.Pubkey)
	}
}

func TestCreateWallet_MissingAccount(t *testing.T) {
	h := NewWalletHandler(&stubWallets{}, testLogger())

	rec := httptest.NewRecorder()
	h.CreateWallet(rec, httptest.NewRequest(http.MethodPost, "/api/wallets", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateWallet_Conflict(t *testing.T) {
	h := NewWalletHandler(&stubWallets{createErr: domain.ErrAlreadyExists}, testLogger())

	rec := httptest.NewRecorder()
	h.CreateWallet(rec, httptest.NewRequest(http.MethodPost, "/api/wallets", strings.NewReader(`{"account":"acct-1"}`)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestTransfer_ReturnsSignature(t *testing.T) {
	svc := &stubWallets{tx: "Sig1111"}
	h := NewWalletHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/transfer",
		strings.NewReader(`{"account":"acct-1","recipient":"Dest1111","lamports":1000000}`))
	h.Transfer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotTo != "Dest1111" || svc.gotLamports != 1_000_000 {
		t.Fatalf("transfer args = %q %d", svc.gotTo, svc.gotLamports)
	}
	var body struct {
		Tx string `json:"tx"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Tx != "Sig1111" {
		t.Fatalf("tx = %q", body.Tx)
	}
}

func TestTransfer_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", domain.ErrInvalidIntent, http.StatusBadRequest},
		{"insufficient balance", domain.ErrInsufficientBal, http.StatusUnprocessableEntity},
		{"unknown wallet", domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWalletHandler(&stubWallets{transferErr: tc.err}, testLogger())
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/transfer",
				strings.NewReader(`{"account":"acct-1","recipient":"Dest1111","lamports":1}`))
			h.Transfer(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTransfer_UnconfirmedReportsSignature(t *testing.T) {
	svc := &stubWallets{tx: "Sig1111", transferErr: domain.ErrUnconfirmed}
	h := NewWalletHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/transfer",
		strings.NewReader(`{"account":"acct-1","recipient":"Dest1111","lamports":1}`))
	h.Transfer(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body struct {
		Tx string `json:"tx"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Tx != "Sig1111" {
		t.Fatalf("tx = %q, want the submitted signature", body.Tx)
	}
}
