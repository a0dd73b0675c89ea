package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/optimist-network/coordinator/x/node"
	"github.com/optimist-network/coordinator/x/txpool"
)

// Coordinator is the node surface the HTTP API needs.
type Coordinator interface {
	Status() node.Status
	AddTransaction(tx *txpool.Transaction) error
	ForceAssemble() error
}

// Handler wires coordinator operations onto the router.
type Handler struct {
	coord Coordinator
}

func NewHandler(coord Coordinator) *Handler {
	return &Handler{coord: coord}
}

// Register mounts all v1 routes.
func (h *Handler) Register(s *Server) {
	v1 := s.Router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/queues", h.getQueues).Methods(http.MethodGet)
	v1.HandleFunc("/challenges", h.getChallenges).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", h.postTransaction).Methods(http.MethodPost)
	v1.HandleFunc("/blocks/assemble", h.postAssemble).Methods(http.MethodPost)
	v1.HandleFunc("/health", h.getHealth).Methods(http.MethodGet)
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.coord.Status())
}

func (h *Handler) getQueues(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.coord.Status().QueueDepths)
}

func (h *Handler) getChallenges(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.coord.Status().Challenges)
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	st := h.coord.Status()
	if st.Halted {
		WriteError(w, r, http.StatusServiceUnavailable, "halted", "coordinator halted on consistency fault", nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ready": st.Ready})
}

type transactionRequest struct {
	Hash common.Hash   `json:"hash"`
	Raw  hexutil.Bytes `json:"raw"`
	Fee  *hexutil.Big  `json:"fee"`
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid transaction payload", err.Error())
		return
	}
	if len(req.Raw) == 0 {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "raw transaction bytes required", nil)
		return
	}
	hash := req.Hash
	if hash == (common.Hash{}) {
		hash = crypto.Keccak256Hash(req.Raw)
	}
	fee := new(big.Int)
	if req.Fee != nil {
		fee = req.Fee.ToInt()
	}

	err := h.coord.AddTransaction(&txpool.Transaction{Hash: hash, Raw: req.Raw, Fee: fee})
	switch {
	case errors.Is(err, txpool.ErrKnownTransaction):
		WriteError(w, r, http.StatusConflict, "known_transaction", "transaction already pooled", hash.Hex())
	case err != nil:
		WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "transaction not accepted", err.Error())
	default:
		WriteJSON(w, http.StatusAccepted, map[string]any{"hash": hash})
	}
}

func (h *Handler) postAssemble(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ForceAssemble(); err != nil {
		WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "assembly not scheduled", err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"scheduled": true})
}
