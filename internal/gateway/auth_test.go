package gateway

import (
	"fmt"
	"testing"
	"time"
)

func TestAuthTokenFormat(t *testing.T) {
	a := NewAuthService(time.Hour, 5, nil)
	token := a.CurrentToken()
	if len(token) != TokenDigits {
		t.Fatalf("expected %d digit token, got %q", TokenDigits, token)
	}
	for _, c := range token {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in token %q", token)
		}
	}
	if again := a.CurrentToken(); again != token {
		t.Errorf("token changed between reads: %q vs %q", token, again)
	}
}

func TestAuthAcceptsCurrentToken(t *testing.T) {
	a := NewAuthService(time.Hour, 5, nil)
	if !a.TryAuthenticate("conn-1", a.CurrentToken()) {
		t.Fatal("valid token rejected")
	}
	if !a.IsAuthenticated("conn-1") {
		t.Error("connection not recorded")
	}
	if a.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", a.ConnectionCount())
	}
}

func TestAuthRejectsWrongToken(t *testing.T) {
	a := NewAuthService(time.Hour, 5, nil)
	a.CurrentToken()
	if a.TryAuthenticate("conn-1", "000000x") {
		t.Error("malformed token accepted")
	}
	if a.TryAuthenticate("conn-1", "") {
		t.Error("empty token accepted")
	}
	if a.IsAuthenticated("conn-1") {
		t.Error("rejected connection recorded as authenticated")
	}
}

func TestAuthRefreshInvalidatesEverything(t *testing.T) {
	a := NewAuthService(time.Hour, 5, nil)
	old := a.CurrentToken()
	if !a.TryAuthenticate("conn-1", old) {
		t.Fatal("setup auth failed")
	}

	fresh := a.RefreshToken()
	if fresh == old {
		t.Error("refresh returned the same token")
	}
	if a.TryAuthenticate("conn-2", old) {
		t.Error("old token still accepted after refresh")
	}
	if a.IsAuthenticated("conn-1") {
		t.Error("existing connection survived refresh")
	}
	if a.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections after refresh, got %d", a.ConnectionCount())
	}
	if !a.TryAuthenticate("conn-3", fresh) {
		t.Error("fresh token rejected")
	}
}

func TestAuthConnectionCap(t *testing.T) {
	a := NewAuthService(time.Hour, 3, nil)
	token := a.CurrentToken()

	for i := 0; i < 3; i++ {
		if !a.TryAuthenticate(fmt.Sprintf("conn-%d", i), token) {
			t.Fatalf("connection %d refused under cap", i)
		}
	}
	if a.TryAuthenticate("conn-over", token) {
		t.Fatal("connection admitted over cap")
	}

	// Re-authenticating an admitted connection is not a new slot.
	if !a.TryAuthenticate("conn-0", token) {
		t.Error("existing connection refused on re-auth")
	}

	a.RemoveConnection("conn-1")
	if !a.TryAuthenticate("conn-new", token) {
		t.Error("connection refused after a slot freed up")
	}
}

func TestAuthExpiredTokenRotates(t *testing.T) {
	a := NewAuthService(20*time.Millisecond, 5, nil)
	old := a.CurrentToken()
	time.Sleep(50 * time.Millisecond)

	if a.TryAuthenticate("conn-1", old) {
		t.Error("expired token accepted")
	}
	fresh := a.CurrentToken()
	if fresh == old {
		t.Error("expired token was not rotated on read")
	}
	if !a.TryAuthenticate("conn-2", fresh) {
		t.Error("rotated token rejected")
	}
}

func TestAuthVerifyDoesNotAdmit(t *testing.T) {
	a := NewAuthService(time.Hour, 5, nil)
	token := a.CurrentToken()
	if !a.VerifyToken(token) {
		t.Fatal("verify rejected current token")
	}
	if a.VerifyToken("nope") {
		t.Error("verify accepted bogus token")
	}
	if a.ConnectionCount() != 0 {
		t.Errorf("verify consumed a connection slot: %d", a.ConnectionCount())
	}
}
