package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func TestNewVerifierRequiresKey(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing public key to fail")
	}
	if _, err := NewVerifier(Config{PublicKeyPEM: []byte("not pem")}); err == nil {
		t.Fatalf("expected invalid public key to fail")
	}
}

func TestVerifySubjectFromKeyFile(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	path := filepath.Join(t.TempDir(), "public.pem")
	if err := os.WriteFile(path, pubPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	v, err := NewVerifier(Config{PublicKeyPath: path, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	sub, err := v.VerifySubject(sign(t, key, validClaims("user-a")))
	if err != nil || sub != "user-a" {
		t.Fatalf("verify failed: sub=%s err=%v", sub, err)
	}
}

func TestVerifySubjectRejectsBadTokens(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	other, _ := newKeyPair(t)
	v, err := NewVerifier(Config{PublicKeyPEM: pubPEM, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	expired := validClaims("user-a")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAudience := validClaims("user-a")
	wrongAudience.Audience = jwt.ClaimStrings{"aud-b"}
	noExpiry := validClaims("user-a")
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"expired":        sign(t, key, expired),
		"wrong audience": sign(t, key, wrongAudience),
		"no expiry":      sign(t, key, noExpiry),
		"missing sub":    sign(t, key, validClaims(" ")),
		"other key":      sign(t, other, validClaims("user-a")),
		"garbage":        "a.b.c",
	}
	for name, token := range cases {
		if _, err := v.VerifySubject(token); err == nil {
			t.Fatalf("%s: expected verification to fail", name)
		}
	}
}

type jwksServer struct {
	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetches atomic.Int32
}

func (s *jwksServer) set(kid string, key *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = map[string]*rsa.PublicKey{kid: key}
}

func (s *jwksServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.fetches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	type jwk struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	out := struct {
		Keys []jwk `json:"keys"`
	}{}
	for kid, key := range s.keys {
		out.Keys = append(out.Keys, jwk{
			Kty: "RSA",
			Kid: kid,
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(out)
}

func signWithKid(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifySubjectFromJWKS(t *testing.T) {
	key, _ := newKeyPair(t)
	keys := &jwksServer{}
	keys.set("kid-1", &key.PublicKey)
	srv := httptest.NewServer(keys)
	t.Cleanup(srv.Close)

	v, err := NewVerifier(Config{JWKSURL: srv.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	sub, err := v.VerifySubject(signWithKid(t, key, "kid-1", validClaims("user-a")))
	if err != nil || sub != "user-a" {
		t.Fatalf("verify failed: sub=%s err=%v", sub, err)
	}
	if _, err := v.VerifySubject(sign(t, key, validClaims("user-a"))); err == nil {
		t.Fatalf("expected token without kid to fail")
	}
}

func TestJWKSRefetchesOnUnknownKid(t *testing.T) {
	oldKey, _ := newKeyPair(t)
	newKey, _ := newKeyPair(t)
	keys := &jwksServer{}
	keys.set("kid-1", &oldKey.PublicKey)
	srv := httptest.NewServer(keys)
	t.Cleanup(srv.Close)

	v, err := NewVerifier(Config{JWKSURL: srv.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := v.VerifySubject(signWithKid(t, oldKey, "kid-1", validClaims("user-a"))); err != nil {
		t.Fatalf("verify with cached key: %v", err)
	}
	if got := keys.fetches.Load(); got != 1 {
		t.Fatalf("fetches after cached verify = %d, want 1", got)
	}

	keys.set("kid-2", &newKey.PublicKey)
	sub, err := v.VerifySubject(signWithKid(t, newKey, "kid-2", validClaims("user-b")))
	if err != nil || sub != "user-b" {
		t.Fatalf("verify after rotation: sub=%s err=%v", sub, err)
	}
	if got := keys.fetches.Load(); got != 2 {
		t.Fatalf("fetches after rotation = %d, want 2", got)
	}
}

func TestNewVerifierFailsOnUnusableJWKS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[{"kty":"EC","kid":"k"}]}`))
	}))
	t.Cleanup(srv.Close)
	if _, err := NewVerifier(Config{JWKSURL: srv.URL}); err == nil {
		t.Fatalf("expected jwks without rsa keys to fail")
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"":                      0,
		"no-cache":              0,
		"public, max-age=60":    time.Minute,
		"MAX-AGE=5, must-reval": 5 * time.Second,
		"max-age=abc":           0,
	}
	for header, want := range cases {
		if got := parseCacheMaxAge(header); got != want {
			t.Fatalf("parseCacheMaxAge(%q) = %v, want %v", header, got, want)
		}
	}
}
