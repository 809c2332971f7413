package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

// maxBatchedRequests mirrors the source's hard cap on fan-out size
// (impls/batch.rs: requests.len() > 64).
const maxBatchedRequests = 64

// BatchHandler implements the /Batch and /BatchSame endpoints (spec.md
// §5): each sub-request is replayed against the very same router used for
// top-level requests, so a batched call sees identical auth, rate
// limiting, and permission behavior as if it had been made directly.
type BatchHandler struct {
	engine *gin.Engine
}

func NewBatchHandler(engine *gin.Engine) *BatchHandler {
	return &BatchHandler{engine: engine}
}

// isValidBatchEndpoint rejects any endpoint that itself ends in Batch or
// BatchSame, preventing a batch from recursively batching itself.
func isValidBatchEndpoint(endpoint string) bool {
	trimmed := strings.TrimRight(endpoint, "/")
	return !strings.HasSuffix(trimmed, "Batch") && !strings.HasSuffix(trimmed, "BatchSame")
}

type batchSubRequest struct {
	Endpoint string `json:"endpoint"`
	Body     []byte `json:"body"`
}

type batchRequest struct {
	Requests []batchSubRequest `json:"requests"`
}

type batchSameRequest struct {
	Endpoint string   `json:"endpoint"`
	Bodies   [][]byte `json:"bodies"`
}

type batchResponse struct {
	Responses [][]byte `json:"responses"`
}

// Batch handles POST /Batch, each sub-request naming its own endpoint.
func (h *BatchHandler) Batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if len(req.Requests) > maxBatchedRequests {
		respondError(c, herror.ErrTooManyBatchedRequests)
		return
	}

	auth := c.GetHeader("Authorization")
	responses := make([][]byte, len(req.Requests))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, sub := range req.Requests {
		if !isValidBatchEndpoint(sub.Endpoint) {
			respondError(c, herror.ErrInvalidBatchEndpoint)
			return
		}
		wg.Add(1)
		go func(i int, sub batchSubRequest) {
			defer wg.Done()
			body, status, err := h.dispatch(sub.Endpoint, sub.Body, auth)
			if err != nil || status >= 300 {
				mu.Lock()
				if firstErr == nil {
					firstErr = herror.ErrInvalidBatchEndpoint
				}
				mu.Unlock()
				return
			}
			responses[i] = body
		}(i, sub)
	}
	wg.Wait()

	if firstErr != nil {
		respondError(c, firstErr)
		return
	}
	c.JSON(http.StatusOK, batchResponse{Responses: responses})
}

// BatchSame handles POST /BatchSame, replaying the same endpoint against
// many bodies.
func (h *BatchHandler) BatchSame(c *gin.Context) {
	var req batchSameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if len(req.Bodies) > maxBatchedRequests {
		respondError(c, herror.ErrTooManyBatchedRequests)
		return
	}
	if !isValidBatchEndpoint(req.Endpoint) {
		respondError(c, herror.ErrInvalidBatchEndpoint)
		return
	}

	auth := c.GetHeader("Authorization")
	responses := make([][]byte, len(req.Bodies))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, body := range req.Bodies {
		wg.Add(1)
		go func(i int, body []byte) {
			defer wg.Done()
			resp, status, err := h.dispatch(req.Endpoint, body, auth)
			if err != nil || status >= 300 {
				mu.Lock()
				if firstErr == nil {
					firstErr = herror.ErrInvalidBatchEndpoint
				}
				mu.Unlock()
				return
			}
			responses[i] = resp
		}(i, body)
	}
	wg.Wait()

	if firstErr != nil {
		respondError(c, firstErr)
		return
	}
	c.JSON(http.StatusOK, batchResponse{Responses: responses})
}

// dispatch replays one sub-request through the full router, exactly as
// the source hands each batched body to a freshly-built hrpc service for
// its endpoint (impls/batch.rs process_request).
func (h *BatchHandler) dispatch(endpoint string, body []byte, authHeader string) ([]byte, int, error) {
	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec.Body.Bytes(), rec.Code, nil
}
