package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/federation"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

// FederationHandler serves the inbound side of host-to-host federation:
// handing out this server's own public key, accepting pushed events from
// peers, and letting peers drain what we've queued for them (spec.md §4.8,
// §8 Key/Push/Pull RPCs, grounded on impls/sync/mod.rs's equivalent
// service methods).
type FederationHandler struct {
	keys    *federation.KeyManager
	sync    *trees.SyncTree
	applier federation.Applier
	logger  *zap.Logger
}

func NewFederationHandler(keys *federation.KeyManager, syncTree *trees.SyncTree, applier federation.Applier, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{keys: keys, sync: syncTree, applier: applier, logger: logger}
}

type keyResponse struct {
	PublicKey []byte `json:"public_key"`
}

// Key handles GET /federation/key.
func (h *FederationHandler) Key(c *gin.Context) {
	c.JSON(http.StatusOK, keyResponse{PublicKey: h.keys.OwnPublicKey()})
}

type wireToken struct {
	Data []byte `json:"data"`
	Sig  []byte `json:"sig"`
}

func (t wireToken) toToken() federation.Token {
	return federation.Token{Data: t.Data, Sig: t.Sig}
}

type pushRequest struct {
	Token   wireToken `json:"token"`
	Payload []byte    `json:"payload"`
}

// Push handles POST /federation/push — a peer delivering one event
// directly (as opposed to us pulling its backlog).
func (h *FederationHandler) Push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}

	host, err := h.keys.VerifyAuthToken(c.Request.Context(), req.Token.toToken())
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.applier.Apply(c.Request.Context(), host, req.Payload); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pullRequest struct {
	Token wireToken `json:"token"`
}

type pullResponse struct {
	Events []trees.QueuedEvent `json:"events"`
}

// Pull handles POST /federation/pull — a peer draining whatever this
// server has queued for it since it was last reachable.
func (h *FederationHandler) Pull(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}

	host, err := h.keys.VerifyAuthToken(c.Request.Context(), req.Token.toToken())
	if err != nil {
		respondError(c, err)
		return
	}

	events, err := h.sync.Drain(c.Request.Context(), host)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(events) > 0 {
		last := events[len(events)-1].Sequence
		if err := h.sync.Ack(c.Request.Context(), host, last); err != nil {
			h.logger.Error("federation: ack after drain failed", zap.String("host", host), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, pullResponse{Events: events})
}

// Client is the outbound half of federation: it satisfies
// federation.Pusher, federation.Puller, and federation.KeyFetcher by
// calling the Key/Push/Pull endpoints above on remote hosts.
type Client struct {
	httpClient *http.Client
	scheme     string
}

func NewClient(timeout time.Duration, scheme string) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}, scheme: scheme}
}

func (c *Client) FetchKey(ctx context.Context, host string) (ed25519.PublicKey, error) {
	var out keyResponse
	if err := c.get(ctx, host, "/federation/key", &out); err != nil {
		return nil, err
	}
	return ed25519.PublicKey(out.PublicKey), nil
}

func (c *Client) Push(ctx context.Context, host string, token federation.Token, event trees.QueuedEvent) error {
	body := pushRequest{Token: wireToken{Data: token.Data, Sig: token.Sig}, Payload: event.Payload}
	return c.post(ctx, host, "/federation/push", body, nil)
}

func (c *Client) Pull(ctx context.Context, host string, token federation.Token) ([]trees.QueuedEvent, error) {
	body := pullRequest{Token: wireToken{Data: token.Data, Sig: token.Sig}}
	var out pullResponse
	if err := c.post(ctx, host, "/federation/pull", body, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) get(ctx context.Context, host, path string, out interface{}) error {
	url := fmt.Sprintf("%s://%s%s", c.scheme, host, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return herror.Internal(err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, host, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return herror.Internal(err)
	}
	url := fmt.Sprintf("%s://%s%s", c.scheme, host, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return herror.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return herror.Internal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("federation request to %s failed: %s: %s", req.URL.Host, resp.Status, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
