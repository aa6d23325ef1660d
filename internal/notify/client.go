// Package notify delivers flow outcomes back to the requesting origin.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Outcome is the callback payload posted when a flow terminates.
type Outcome struct {
	FlowID string `json:"flow_id"`
	State  string `json:"state"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client posts terminal flow outcomes to origin callback URLs. Delivery is
// best-effort: failures are logged and never affect the flow.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

func NewClient(log *zap.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// Notify POSTs the outcome to callbackURL as JSON.
func (c *Client) Notify(ctx context.Context, callbackURL string, o Outcome) {
	if callbackURL == "" {
		return
	}
	body, err := json.Marshal(o)
	if err != nil {
		c.log.Error("notify: marshal outcome", zap.String("flow", o.FlowID), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		c.log.Error("notify: build request", zap.String("flow", o.FlowID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("notify: callback unreachable",
			zap.String("flow", o.FlowID),
			zap.String("url", callbackURL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.log.Warn("notify: callback rejected",
			zap.String("flow", o.FlowID),
			zap.String("url", callbackURL),
			zap.Int("status", resp.StatusCode),
		)
		return
	}
	c.log.Debug("flow outcome delivered",
		zap.String("flow", o.FlowID),
		zap.String("state", o.State),
	)
}
