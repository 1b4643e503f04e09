package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/morrowlabs/royaltylock/pkg/engine"
	"github.com/morrowlabs/royaltylock/pkg/escrow"
	"github.com/morrowlabs/royaltylock/pkg/oracle"
)

// Server exposes the settlement engine over REST plus a websocket audit feed.
type Server struct {
	engine *engine.Engine
	vaults *escrow.Manager
	oracle *oracle.Verifier // optional
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(eng *engine.Engine, vaults *escrow.Manager, priceOracle *oracle.Verifier, hub *Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		engine: eng,
		vaults: vaults,
		oracle: priceOracle,
		router: mux.NewRouter(),
		hub:    hub,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// settlement
	api.HandleFunc("/fills", s.handleFill).Methods("POST")
	api.HandleFunc("/cancels", s.handleCancel).Methods("POST")
	api.HandleFunc("/counters/increment", s.handleIncrementCounter).Methods("POST")

	// reads
	api.HandleFunc("/orders/{hash}", s.handleOrderStatus).Methods("GET")
	api.HandleFunc("/counters/{maker}", s.handleCounter).Methods("GET")
	api.HandleFunc("/vaults/{owner}/locks/{asset}/{identifier}", s.handleLock).Methods("GET")

	// escrow
	api.HandleFunc("/vaults/unlock", s.handleUnlock).Methods("POST")
	api.HandleFunc("/vaults/resale", s.handleResale).Methods("POST")

	s.router.HandleFunc("/ws", s.hub.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the websocket hub and serves until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var payload FillPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req, err := payload.ToRequest()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill request", err.Error())
		return
	}

	var result *engine.FillResult
	if req.Order.ItemKind.Criteria() {
		result, err = s.engine.FillWithCriteria(req)
	} else {
		result, err = s.engine.Fill(req)
	}
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "fill rejected", err.Error())
		return
	}

	respondJSON(w, FillResponse{
		OrderHash:    result.OrderHash.Hex(),
		Identifier:   result.Identifier.String(),
		TotalPrice:   result.TotalPrice.String(),
		TotalRoyalty: result.TotalRoyalty.String(),
		Buyer:        result.Buyer.Hex(),
		Seller:       result.Seller.Hex(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var payload CancelPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(payload.Caller) {
		respondError(w, http.StatusBadRequest, "invalid caller address", payload.Caller)
		return
	}
	orders := make([]*engine.Order, 0, len(payload.Orders))
	for _, p := range payload.Orders {
		order, err := p.ToOrder()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid order", err.Error())
			return
		}
		orders = append(orders, order)
	}
	if err := s.engine.Cancel(common.HexToAddress(payload.Caller), orders); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "cancel rejected", err.Error())
		return
	}
	respondJSON(w, map[string]int{"cancelled": len(orders)})
}

func (s *Server) handleIncrementCounter(w http.ResponseWriter, r *http.Request) {
	var payload IncrementPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(payload.Maker) {
		respondError(w, http.StatusBadRequest, "invalid maker address", payload.Maker)
		return
	}
	maker := common.HexToAddress(payload.Maker)
	counter := s.engine.IncrementCounter(maker)
	respondJSON(w, CounterResponse{Maker: maker.Hex(), Counter: counter})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	status := s.engine.Status(hash)
	respondJSON(w, StatusResponse{
		OrderHash:    hash.Hex(),
		Cancelled:    status.Cancelled,
		FilledAmount: status.FilledAmount,
	})
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	makerHex := mux.Vars(r)["maker"]
	if !common.IsHexAddress(makerHex) {
		respondError(w, http.StatusBadRequest, "invalid maker address", makerHex)
		return
	}
	maker := common.HexToAddress(makerHex)
	respondJSON(w, CounterResponse{Maker: maker.Hex(), Counter: s.engine.Counter(maker)})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["owner"]) || !common.IsHexAddress(vars["asset"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	identifier, ok := new(big.Int).SetString(vars["identifier"], 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid identifier", vars["identifier"])
		return
	}
	owner := common.HexToAddress(vars["owner"])
	asset := common.HexToAddress(vars["asset"])
	lock, ok := s.vaults.LockOf(owner, asset, identifier)
	if !ok {
		respondError(w, http.StatusNotFound, "no lock for item", "")
		return
	}
	respondJSON(w, LockResponse{
		Owner:        owner.Hex(),
		Asset:        asset.Hex(),
		Identifier:   identifier.String(),
		Royalty:      lock.Royalty.String(),
		LockedAmount: lock.LockedAmount,
		Unique:       lock.Unique,
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var payload UnlockPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(payload.Caller) || !common.IsHexAddress(payload.Owner) || !common.IsHexAddress(payload.Asset) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	identifier, ok := new(big.Int).SetString(payload.Identifier, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid identifier", payload.Identifier)
		return
	}
	err := s.vaults.Unlock(
		common.HexToAddress(payload.Caller),
		common.HexToAddress(payload.Owner),
		common.HexToAddress(payload.Asset),
		identifier,
		payload.Quantity,
	)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "unlock rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "unlocked"})
}

func (s *Server) handleResale(w http.ResponseWriter, r *http.Request) {
	var payload ResalePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(payload.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", payload.Owner)
		return
	}
	listing, err := payload.ToListing()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid listing", err.Error())
		return
	}

	var floorPrice *big.Int
	if payload.FloorPrice != "" {
		if s.oracle == nil || len(listing.Offer) != 1 {
			respondError(w, http.StatusBadRequest, "oracle floor not available", "")
			return
		}
		price, ok := new(big.Int).SetString(payload.FloorPrice, 10)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid floor_price", payload.FloorPrice)
			return
		}
		sig, err := hexutil.Decode(payload.FloorSignature)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid floor_signature", err.Error())
			return
		}
		att := &oracle.Attestation{
			Asset:      listing.Offer[0].Asset,
			Identifier: listing.Offer[0].Identifier,
			Price:      price,
			Timestamp:  payload.FloorTimestamp,
			Signature:  sig,
		}
		floorPrice, err = s.oracle.VerifyPrice(att, time.Duration(payload.FloorMaxAgeSec)*time.Second)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "floor attestation rejected", err.Error())
			return
		}
	}

	if err := s.vaults.AuthorizeResale(common.HexToAddress(payload.Owner), listing, floorPrice); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "resale rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "authorized"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Details: details})
}
