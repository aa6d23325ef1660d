package auth

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignerKey is the gin context key holding the authenticated wallet address.
const SignerKey = "signer_address"

// Envelope is the JSON payload inside X-Signed-Message.
type Envelope struct {
	Action    string `json:"action"`  // e.g. "approvals:start", "approvals:approve"
	FlowID    string `json:"flow_id"` // empty for flow creation
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"`
}

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "approval:authnonce:"
)

// Middleware validates the wallet signature headers and rejects replayed
// nonces. On success the recovered signer address is stored in the context.
func Middleware(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		envelopeB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || envelopeB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(envelopeB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var env Envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid envelope JSON"})
			return
		}

		now := time.Now().Unix()
		if env.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if env.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}

		recovered, err := RecoverSigner(msgBytes, sig)
		if err != nil || !strings.EqualFold(recovered.Hex(), walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		if !envelopeMatchesRequest(c, env) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "envelope does not authorize this request"})
			return
		}

		// Replay protection: a nonce is good for exactly one request.
		ttl := time.Duration(env.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(context.Background(), nonceKeyPrefix+env.Nonce, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(SignerKey, recovered.Hex())
		c.Next()
	}
}

// envelopeMatchesRequest binds the signed action and flow ID to the matched
// route, so a signature over one operation can never drive another. Flow
// creation signs "approvals:start" with an empty flow ID; reads sign
// "approvals:read"; commands sign "approvals:<cmd>".
func envelopeMatchesRequest(c *gin.Context, env Envelope) bool {
	if env.FlowID != c.Param("id") {
		return false
	}
	if cmd := c.Param("cmd"); cmd != "" {
		return env.Action == "approvals:"+cmd
	}
	if c.Request.Method == http.MethodGet {
		return env.Action == "approvals:read"
	}
	return env.Action == "approvals:start"
}
