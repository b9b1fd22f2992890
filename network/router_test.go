package network

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahertym/coopledger/crypto"
	"github.com/fahertym/coopledger/node"
	"github.com/fahertym/coopledger/types"
)

var basicNeeds = types.NewCurrency(types.BasicNeeds)

// testGateway pins Alice and Bob to shard 0 and Carol to shard 1, funds
// Alice, and returns the wired mux router.
func testGateway(t *testing.T) (*node.Node, *mux.Router) {
	t.Helper()
	n, err := node.New(node.Options{ShardCount: 2, WaitPollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(n.Close)

	require.NoError(t, n.AssignAddress("Alice", 0))
	require.NoError(t, n.AssignAddress("Bob", 0))
	require.NoError(t, n.AssignAddress("Carol", 1))
	require.NoError(t, n.Mint("Alice", basicNeeds, 100))

	return n, NewRouter(n, nil).SetupRoutes()
}

func signedTransfer(t *testing.T, from, to string, amount float64) *types.Transaction {
	t.Helper()
	priv, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx := &types.Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Currency:  basicNeeds,
		Timestamp: time.Now().Unix(),
	}
	tx.Sign(priv)
	return tx
}

func doJSON(t *testing.T, r *mux.Router, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, r := testGateway(t)
	rec := doJSON(t, r, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitTransaction(t *testing.T) {
	n, r := testGateway(t)

	rec := doJSON(t, r, "POST", "/transaction", signedTransfer(t, "Alice", "Bob", 40))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 60.0, n.Balance("Alice", basicNeeds))
	assert.Equal(t, 40.0, n.Balance("Bob", basicNeeds))
}

func TestSubmitTransactionErrors(t *testing.T) {
	_, r := testGateway(t)

	rec := doJSON(t, r, "POST", "/transaction", signedTransfer(t, "Alice", "Bob", 500))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	tampered := signedTransfer(t, "Alice", "Bob", 10)
	tampered.Amount = 20
	rec = doJSON(t, r, "POST", "/transaction", tampered)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/transaction", bytes.NewBufferString("{nope"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCrossShardFlow(t *testing.T) {
	n, r := testGateway(t)

	rec := doJSON(t, r, "POST", "/cross-shard", signedTransfer(t, "Alice", "Carol", 30))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		TxnID string `json:"txn_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.TxnID)

	status, err := n.WaitFor(accepted.TxnID, time.Second)
	require.NoError(t, err)
	require.Equal(t, types.StatusCommitted, status)

	rec = doJSON(t, r, "GET", "/status/"+accepted.TxnID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Status    string `json:"status"`
		FromShard int    `json:"from_shard"`
		ToShard   int    `json:"to_shard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Committed", got.Status)
	assert.Equal(t, 0, got.FromShard)
	assert.Equal(t, 1, got.ToShard)
}

func TestCrossShardRejectsSameShard(t *testing.T) {
	_, r := testGateway(t)
	rec := doJSON(t, r, "POST", "/cross-shard", signedTransfer(t, "Alice", "Bob", 10))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknown(t *testing.T) {
	_, r := testGateway(t)
	rec := doJSON(t, r, "GET", "/status/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBalanceEndpoints(t *testing.T) {
	n, r := testGateway(t)
	require.NoError(t, n.Mint("Alice", types.Custom("timebank"), 5))

	rec := doJSON(t, r, "GET", "/balance/Alice?currency=BasicNeeds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var single struct {
		Balance float64 `json:"balance"`
		Locked  float64 `json:"locked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, 100.0, single.Balance)
	assert.Zero(t, single.Locked)

	rec = doJSON(t, r, "GET", "/balance/Alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Balances map[string]float64 `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all.Balances, 2)

	rec = doJSON(t, r, "GET", "/balance/Alice?currency=not_a_currency", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlocksEndpoint(t *testing.T) {
	_, r := testGateway(t)

	rec := doJSON(t, r, "GET", "/blocks/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var blocks []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocks))
	assert.Len(t, blocks, 1)

	rec = doJSON(t, r, "GET", "/blocks/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGovernanceEndpoints(t *testing.T) {
	n, r := testGateway(t)

	rec := doJSON(t, r, "POST", "/validators", map[string]interface{}{"id": "coop-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	member, ok := n.Consensus().Member("coop-1")
	require.True(t, ok)
	assert.True(t, member.IsValidator)

	rec = doJSON(t, r, "POST", "/validators", map[string]interface{}{"id": "observer", "validator": false})
	assert.Equal(t, http.StatusCreated, rec.Code)
	member, ok = n.Consensus().Member("observer")
	require.True(t, ok)
	assert.False(t, member.IsValidator)

	rec = doJSON(t, r, "POST", "/validators", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, "POST", "/reputation", map[string]interface{}{"id": "coop-1", "delta": 1.5})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	member, _ = n.Consensus().Member("coop-1")
	assert.Equal(t, 2.5, member.Reputation)

	rec = doJSON(t, r, "POST", "/consensus/params", map[string]interface{}{"threshold": 0.8, "quorum": 0.6})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, r, "POST", "/consensus/params", map[string]interface{}{"threshold": 1.8, "quorum": 0.6})
	assert.GreaterOrEqual(t, rec.Code, 400)

	rec = doJSON(t, r, "DELETE", "/validators/coop-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = n.Consensus().Member("coop-1")
	assert.False(t, ok)
}
