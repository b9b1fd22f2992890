// Package network is the HTTP and WebSocket gateway over the node's
// submission API. It adds no semantics of its own: every handler is a thin
// JSON adapter, and the event hub relays coordinator events to subscribers.
package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/node"
	"github.com/fahertym/coopledger/types"
)

type Router struct {
	node *node.Node
	hub  *EventHub
	log  *logrus.Entry
}

func NewRouter(n *node.Node, hub *EventHub) *Router {
	return &Router{
		node: n,
		hub:  hub,
		log:  logrus.WithField("component", "network"),
	}
}

// SetupRoutes configures the HTTP routes.
func (router *Router) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/transaction", router.handleSubmitTransaction).Methods("POST")
	r.HandleFunc("/cross-shard", router.handleSubmitCrossShard).Methods("POST")
	r.HandleFunc("/status/{id}", router.handleStatus).Methods("GET")
	r.HandleFunc("/balance/{address}", router.handleBalance).Methods("GET")
	r.HandleFunc("/blocks/{shard:[0-9]+}", router.handleBlocks).Methods("GET")

	// Governance hooks, invoked by the external proposal engine.
	r.HandleFunc("/validators", router.handleAddValidator).Methods("POST")
	r.HandleFunc("/validators/{id}", router.handleRemoveValidator).Methods("DELETE")
	r.HandleFunc("/reputation", router.handleUpdateReputation).Methods("POST")
	r.HandleFunc("/consensus/params", router.handleSetConsensusParams).Methods("POST")

	if router.hub != nil {
		r.HandleFunc("/ws/events", router.hub.ServeWS).Methods("GET")
	}
	r.HandleFunc("/health", router.handleHealth).Methods("GET")

	return r
}

func (router *Router) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		http.Error(w, "invalid transaction payload", http.StatusBadRequest)
		return
	}
	if err := router.node.SubmitTransaction(&tx); err != nil {
		router.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "accepted"})
}

func (router *Router) handleSubmitCrossShard(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		http.Error(w, "invalid transaction payload", http.StatusBadRequest)
		return
	}
	txnID, err := router.node.SubmitCrossShard(&tx)
	if err != nil {
		router.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"txn_id": txnID})
}

func (router *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	txn, ok := router.node.Status(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"txn_id":      txn.ID,
		"status":      txn.Status.String(),
		"fail_reason": txn.FailReason,
		"from_shard":  txn.FromShard,
		"to_shard":    txn.ToShard,
		"updated_at":  txn.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func (router *Router) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	if raw := r.URL.Query().Get("currency"); raw != "" {
		currency, err := types.ParseCurrency(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address":  address,
			"currency": currency.String(),
			"balance":  router.node.Balance(address, currency),
			"locked":   router.node.LockedBalance(address, currency),
		})
		return
	}

	balances := make(map[string]float64)
	for currency, amount := range router.node.Balances(address) {
		balances[currency.String()] = amount
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  address,
		"balances": balances,
	})
}

func (router *Router) handleBlocks(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.Atoi(mux.Vars(r)["shard"])
	if err != nil {
		http.Error(w, "invalid shard id", http.StatusBadRequest)
		return
	}
	blocks, err := router.node.ListBlocks(shardID)
	if err != nil {
		router.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (router *Router) handleAddValidator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		Validator *bool  `json:"validator,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid validator payload", http.StatusBadRequest)
		return
	}
	var err error
	if req.Validator != nil && !*req.Validator {
		err = router.node.AddMember(req.ID)
	} else {
		err = router.node.AddValidator(req.ID)
	}
	if err != nil {
		router.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (router *Router) handleRemoveValidator(w http.ResponseWriter, r *http.Request) {
	if err := router.node.RemoveValidator(mux.Vars(r)["id"]); err != nil {
		router.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) handleUpdateReputation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string  `json:"id"`
		Delta float64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid reputation payload", http.StatusBadRequest)
		return
	}
	if err := router.node.UpdateReputation(req.ID, req.Delta); err != nil {
		router.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) handleSetConsensusParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold float64 `json:"threshold"`
		Quorum    float64 `json:"quorum"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid params payload", http.StatusBadRequest)
		return
	}
	if err := router.node.SetConsensusParams(req.Threshold, req.Quorum); err != nil {
		router.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the ledger's error kinds onto HTTP statuses.
func (router *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrSignatureInvalid),
		errors.Is(err, types.ErrNotCrossShard):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrShardNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrCommunication):
		status = http.StatusServiceUnavailable
	}
	router.log.WithField("error", err).Warn("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
