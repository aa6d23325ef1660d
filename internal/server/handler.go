package server

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/signet-labs/approvald/internal/approval"
	"github.com/signet-labs/approvald/internal/auth"
)

// Handler wires the approval flow routes onto a Gin engine.
type Handler struct {
	mgr *Manager
	log *zap.Logger
}

func NewHandler(mgr *Manager, log *zap.Logger) *Handler {
	return &Handler{mgr: mgr, log: log}
}

// Register mounts all routes. The auth middleware should already be applied
// to the group.
//
// All commands go through the single :cmd route (unlock included, reading its
// passphrase from the body) so Gin never sees a static segment competing with
// the parameter.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/approvals", h.handleCreate)
	rg.GET("/approvals/:id", h.withOwner(h.handleGet))
	rg.POST("/approvals/:id/:cmd", h.withOwner(h.handleCommand))
}

func (h *Handler) handleCreate(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// The flow must belong to the authenticated wallet.
	signer := c.GetString(auth.SignerKey)
	if req.Address == "" || !equalHex(signer, req.Address) {
		c.JSON(http.StatusForbidden, gin.H{"error": "address does not match authenticated wallet"})
		return
	}

	id, err := h.mgr.Create(req)
	if err != nil {
		// Start-validation failures are caller errors, surfaced verbatim.
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, _, _ := h.mgr.Get(id)
	c.JSON(http.StatusCreated, gin.H{"id": id, "state": state.String()})
}

func (h *Handler) handleGet(c *gin.Context) {
	id := c.Param("id")
	state, snap, err := h.mgr.Get(id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"id":      id,
			"state":   state.String(),
			"context": snap,
		})
		return
	}

	// Evicted flows are served from their registry record.
	if rec, rerr := h.mgr.Archived(id); rerr == nil && rec != nil {
		c.JSON(http.StatusOK, gin.H{
			"id":      id,
			"state":   rec.State,
			"tx_hash": rec.TxHash,
			"error":   rec.Error,
		})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
}

func (h *Handler) handleCommand(c *gin.Context) {
	cmd := c.Param("cmd")
	switch cmd {
	case "unlock":
		var body struct {
			Passphrase string `json:"passphrase"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		h.dispatch(c, c.Param("id"), cmd, body.Passphrase)
	case "approve", "reject", "reset", "try-again", "close", "cancel-unlock":
		h.dispatch(c, c.Param("id"), cmd, "")
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown command"})
	}
}

func (h *Handler) dispatch(c *gin.Context, id, cmd, passphrase string) {
	err := h.mgr.Command(id, cmd, passphrase)
	switch {
	case err == nil:
		state, _, _ := h.mgr.Get(id)
		c.JSON(http.StatusOK, gin.H{"id": id, "state": state.String()})
	case errors.Is(err, ErrFlowNotFound):
		// An evicted terminal flow is a conflict, not an unknown ID.
		if rec, rerr := h.mgr.Archived(id); rerr == nil && rec != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "flow already terminated"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrTerminated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// withOwner restricts flow routes to the wallet that owns the flow.
func (h *Handler) withOwner(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		owner, err := h.mgr.Owner(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if !SameAddress(c.GetString(auth.SignerKey), owner) {
			c.JSON(http.StatusForbidden, gin.H{"error": "flow belongs to another wallet"})
			return
		}
		next(c)
	}
}

func equalHex(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
