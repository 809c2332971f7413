package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestIsValidBatchEndpointRejectsRecursiveBatching(t *testing.T) {
	require.True(t, isValidBatchEndpoint("/guilds"))
	require.True(t, isValidBatchEndpoint("/guilds/1/channels"))
	require.False(t, isValidBatchEndpoint("/Batch"))
	require.False(t, isValidBatchEndpoint("/Batch/"))
	require.False(t, isValidBatchEndpoint("/BatchSame"))
}

func newTestBatchEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.POST("/echo", func(c *gin.Context) {
		body, _ := c.GetRawData()
		c.Data(http.StatusOK, "application/json", body)
	})
	batchHandler := NewBatchHandler(engine)
	engine.POST("/Batch", batchHandler.Batch)
	engine.POST("/BatchSame", batchHandler.BatchSame)
	return engine
}

func TestBatchDispatchesEachSubRequestAndPreservesOrder(t *testing.T) {
	engine := newTestBatchEngine(t)

	req := batchRequest{Requests: []batchSubRequest{
		{Endpoint: "/echo", Body: []byte(`"one"`)},
		{Endpoint: "/echo", Body: []byte(`"two"`)},
	}}
	rec := doJSON(t, engine, http.MethodPost, "/Batch", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Responses, 2)
	require.Equal(t, `"one"`, strings.TrimSpace(string(resp.Responses[0])))
	require.Equal(t, `"two"`, strings.TrimSpace(string(resp.Responses[1])))
}

func TestBatchRejectsOverCap(t *testing.T) {
	engine := newTestBatchEngine(t)

	subs := make([]batchSubRequest, maxBatchedRequests+1)
	for i := range subs {
		subs[i] = batchSubRequest{Endpoint: "/echo", Body: []byte(`"x"`)}
	}
	rec := doJSON(t, engine, http.MethodPost, "/Batch", batchRequest{Requests: subs})
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestBatchRejectsRecursiveEndpoint(t *testing.T) {
	engine := newTestBatchEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/Batch", batchRequest{Requests: []batchSubRequest{
		{Endpoint: "/Batch", Body: []byte(`{}`)},
	}})
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestBatchSameReplaysOneEndpointAgainstManyBodies(t *testing.T) {
	engine := newTestBatchEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/BatchSame", batchSameRequest{
		Endpoint: "/echo",
		Bodies:   [][]byte{[]byte(`"a"`), []byte(`"b"`), []byte(`"c"`)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Responses, 3)
}
