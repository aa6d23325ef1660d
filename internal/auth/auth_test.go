package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// ── signature primitives ──────────────────────────────────────────────────────

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)

	msg := []byte(`{"action":"approvals:approve","flow_id":"f1"}`)
	sig, err := SignMessage(msg, key)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("V byte: got %d, want 27 or 28", sig[64])
	}

	got, err := RecoverSigner(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("recovered %s, want %s", got.Hex(), want.Hex())
	}
}

func TestRecoverSigner_BadLength(t *testing.T) {
	if _, err := RecoverSigner([]byte("msg"), make([]byte, 64)); err == nil {
		t.Error("64-byte signature accepted")
	}
}

func TestRecoverSigner_TamperedMessage(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignMessage([]byte("original"), key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := RecoverSigner([]byte("tampered"), sig)
	if err == nil && got == addr {
		t.Error("tampered message recovered the original signer")
	}
}

// ── middleware ────────────────────────────────────────────────────────────────

// newAuthedRouter mounts the middleware over the same route shapes the API
// registers, so the envelope binding sees real :id and :cmd params.
func newAuthedRouter(t *testing.T) (*gin.Engine, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	r := gin.New()
	r.Use(Middleware(rdb))
	echo := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"signer": c.GetString(SignerKey)})
	}
	r.POST("/approvals", echo)
	r.GET("/approvals/:id", echo)
	r.POST("/approvals/:id/:cmd", echo)
	return r, rdb
}

func signedHeaders(t *testing.T, env Envelope) (addr, msgB64, sigHex string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := SignMessage(raw, key)
	if err != nil {
		t.Fatal(err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(),
		base64.StdEncoding.EncodeToString(raw),
		"0x" + hex.EncodeToString(sig)
}

func doRequest(r *gin.Engine, method, path, addr, msg, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if addr != "" {
		req.Header.Set("X-Wallet-Address", addr)
	}
	if msg != "" {
		req.Header.Set("X-Signed-Message", msg)
	}
	if sig != "" {
		req.Header.Set("X-Wallet-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// freshEnvelope authorizes GET /approvals/f1.
func freshEnvelope(nonce string) Envelope {
	return Envelope{
		Action:    "approvals:read",
		FlowID:    "f1",
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}
}

func TestMiddleware_ValidSignature(t *testing.T) {
	r, _ := newAuthedRouter(t)
	addr, msg, sig := signedHeaders(t, freshEnvelope("n1"))

	w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["signer"] != addr {
		t.Errorf("signer in context: got %s, want %s", resp["signer"], addr)
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	r, _ := newAuthedRouter(t)
	if w := doRequest(r, http.MethodGet, "/approvals/f1", "", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no headers: got %d, want 401", w.Code)
	}
}

func TestMiddleware_WrongClaimedAddress(t *testing.T) {
	r, _ := newAuthedRouter(t)
	_, msg, sig := signedHeaders(t, freshEnvelope("n2"))

	w := doRequest(r, http.MethodGet, "/approvals/f1", "0x9999999999999999999999999999999999999999", msg, sig)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("mismatched address: got %d, want 401", w.Code)
	}
}

func TestMiddleware_ExpiredEnvelope(t *testing.T) {
	r, _ := newAuthedRouter(t)
	env := freshEnvelope("n3")
	env.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	addr, msg, sig := signedHeaders(t, env)

	if w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, sig); w.Code != http.StatusUnauthorized {
		t.Errorf("expired envelope: got %d, want 401", w.Code)
	}
}

func TestMiddleware_ExpiryTooFarAhead(t *testing.T) {
	r, _ := newAuthedRouter(t)
	env := freshEnvelope("n4")
	env.ExpiresAt = time.Now().Add(time.Hour).Unix()
	addr, msg, sig := signedHeaders(t, env)

	if w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, sig); w.Code != http.StatusUnauthorized {
		t.Errorf("far-future expiry: got %d, want 401", w.Code)
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	r, _ := newAuthedRouter(t)
	addr, msg, sig := signedHeaders(t, freshEnvelope("replayed"))

	if w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, sig); w.Code != http.StatusOK {
		t.Fatalf("first request: got %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, sig); w.Code != http.StatusUnauthorized {
		t.Errorf("replayed nonce: got %d, want 401", w.Code)
	}
}

func TestMiddleware_GarbageSignature(t *testing.T) {
	r, _ := newAuthedRouter(t)
	addr, msg, _ := signedHeaders(t, freshEnvelope("n5"))

	if w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, "0xzzzz"); w.Code != http.StatusUnauthorized {
		t.Errorf("non-hex signature: got %d, want 401", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/approvals/f1", addr, msg, "0x"+hex.EncodeToString(make([]byte, 65))); w.Code != http.StatusUnauthorized {
		t.Errorf("zero signature: got %d, want 401", w.Code)
	}
}

func TestMiddleware_EnvelopeBinding(t *testing.T) {
	tests := []struct {
		name     string
		env      Envelope
		method   string
		path     string
		wantCode int
	}{
		{
			"command signature drives its command",
			Envelope{Action: "approvals:approve", FlowID: "f1"},
			http.MethodPost, "/approvals/f1/approve",
			http.StatusOK,
		},
		{
			"start signature cannot drive a command",
			Envelope{Action: "approvals:start", FlowID: "f1"},
			http.MethodPost, "/approvals/f1/approve",
			http.StatusUnauthorized,
		},
		{
			"approve signature cannot reject",
			Envelope{Action: "approvals:approve", FlowID: "f1"},
			http.MethodPost, "/approvals/f1/reject",
			http.StatusUnauthorized,
		},
		{
			"signature for one flow cannot drive another",
			Envelope{Action: "approvals:approve", FlowID: "f1"},
			http.MethodPost, "/approvals/f2/approve",
			http.StatusUnauthorized,
		},
		{
			"read signature cannot command",
			Envelope{Action: "approvals:read", FlowID: "f1"},
			http.MethodPost, "/approvals/f1/approve",
			http.StatusUnauthorized,
		},
		{
			"creation requires the start action",
			Envelope{Action: "approvals:read"},
			http.MethodPost, "/approvals",
			http.StatusUnauthorized,
		},
		{
			"creation with the start action",
			Envelope{Action: "approvals:start"},
			http.MethodPost, "/approvals",
			http.StatusOK,
		},
		{
			"creation envelope must not carry a flow id",
			Envelope{Action: "approvals:start", FlowID: "f1"},
			http.MethodPost, "/approvals",
			http.StatusUnauthorized,
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newAuthedRouter(t)
			env := tt.env
			env.Nonce = fmt.Sprintf("bind-%d", i)
			env.ExpiresAt = time.Now().Add(time.Minute).Unix()
			addr, msg, sig := signedHeaders(t, env)

			if w := doRequest(r, tt.method, tt.path, addr, msg, sig); w.Code != tt.wantCode {
				t.Errorf("got %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}
