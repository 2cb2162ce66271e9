package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/metrics"
	"github.com/qualitax/swap-engine/internal/model"
	"github.com/qualitax/swap-engine/internal/oracle"
	"github.com/qualitax/swap-engine/internal/settlement"
	"github.com/qualitax/swap-engine/internal/store"
	"github.com/qualitax/swap-engine/internal/token"
)

// SwapSource deploys and resolves engine instances. Implemented by the
// registry.
type SwapSource interface {
	Create(ctx context.Context, cfg model.SwapConfig) (*Engine, error)
	Get(id string) (*Engine, error)
	Count() int
	ByIndex(i int) (*Engine, error)
	List() []*Engine
}

// Service exposes the swap lifecycle over HTTP. Each engine instance
// serializes its own operations; the service itself holds no trade state.
type Service struct {
	swaps  SwapSource
	st     store.Store
	ledger settlement.Ledger
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new lifecycle service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(swaps SwapSource, st store.Store, ledger settlement.Ledger, hub *WSHub) *Service {
	return &Service{
		swaps:  swaps,
		st:     st,
		ledger: ledger,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// LifecycleRequest is the JSON body for incept, confirm, and cancel. Party
// is the authenticated caller identity resolved by the transport layer.
type LifecycleRequest struct {
	Party          string          `json:"party"`
	Counterparty   string          `json:"counterparty"`
	TradeData      string          `json:"trade_data"`
	Position       int             `json:"position"`
	PaymentAmount  decimal.Decimal `json:"payment_amount"`
	SettlementData string          `json:"settlement_data"`
}

func (r LifecycleRequest) terms() model.TradeTerms {
	return model.TradeTerms{
		Party:          r.Party,
		Counterparty:   r.Counterparty,
		TradeData:      r.TradeData,
		Position:       r.Position,
		PaymentAmount:  r.PaymentAmount,
		SettlementData: r.SettlementData,
	}
}

// PartyRequest is the JSON body for single-party operations (valuation,
// termination, maturity).
type PartyRequest struct {
	Party string `json:"party"`
}

// FulfillRequest is the JSON body for oracle fulfillments.
type FulfillRequest struct {
	Party     string          `json:"party"` // the oracle address
	RequestID string          `json:"request_id"`
	Rate      decimal.Decimal `json:"rate"`
}

// TokenMintRequest is the JSON body for ownership-token mints.
type TokenMintRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// TokenTransferRequest is the JSON body for ownership-token transfers.
type TokenTransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SettlementMintRequest funds a party on the settlement ledger. Local and
// test setup only.
type SettlementMintRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SettlementApproveRequest grants a swap's custody account an allowance on
// the caller's settlement balance.
type SettlementApproveRequest struct {
	Party  string          `json:"party"`
	SwapID string          `json:"swap_id"`
	Amount decimal.Decimal `json:"amount"`
}

// SwapResponse is the external view of one engine instance.
type SwapResponse struct {
	ID          string            `json:"id"`
	Config      model.SwapConfig  `json:"config"`
	Record      model.TradeRecord `json:"record"`
	State       string            `json:"state"`
	TotalSupply decimal.Decimal   `json:"total_supply"`
	MaxSupply   decimal.Decimal   `json:"max_supply"`
	Custody     decimal.Decimal   `json:"custody_balance"`
}

// TransitionResponse is returned from every successful lifecycle operation.
type TransitionResponse struct {
	SwapID string            `json:"swap_id"`
	Event  string            `json:"event"`
	Record model.TradeRecord `json:"record"`
	State  string            `json:"state"`
	Amount decimal.Decimal   `json:"amount"`
}

func swapView(e *Engine) SwapResponse {
	record := e.Record()
	return SwapResponse{
		ID:          e.ID(),
		Config:      e.Config(),
		Record:      record,
		State:       record.State.String(),
		TotalSupply: e.Tokens().TotalSupply(),
		MaxSupply:   e.Tokens().MaxSupply(),
		Custody:     e.Escrow().CustodyBalance(),
	}
}

// --- HTTP Handlers ---

// CreateSwap handles POST /api/v1/swaps
func (s *Service) CreateSwap(w http.ResponseWriter, r *http.Request) {
	var cfg model.SwapConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	eng, err := s.swaps.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.ActiveSwaps.Inc()
	slog.Info("swap created",
		"id", eng.ID(),
		"fixed_rate_payer", cfg.FixedRatePayer,
		"floating_rate_payer", cfg.FloatingRatePayer,
		"notional", cfg.NotionalAmount.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(swapView(eng))
}

// ListSwaps handles GET /api/v1/swaps
// Returns all instances in creation order; ?index=<i> selects one by index.
func (s *Service) ListSwaps(w http.ResponseWriter, r *http.Request) {
	if idxStr := r.URL.Query().Get("index"); idxStr != "" {
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			writeError(w, "invalid index", http.StatusBadRequest)
			return
		}
		eng, err := s.swaps.ByIndex(idx)
		if err != nil {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(swapView(eng))
		return
	}

	views := make([]SwapResponse, 0, s.swaps.Count())
	for _, eng := range s.swaps.List() {
		views = append(views, swapView(eng))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// CountSwaps handles GET /api/v1/swaps/count
func (s *Service) CountSwaps(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"count": s.swaps.Count()})
}

// GetSwap handles GET /api/v1/swaps/{swapID}
func (s *Service) GetSwap(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(swapView(eng))
}

// GetEvents handles GET /api/v1/swaps/{swapID}/events
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	swapID := chi.URLParam(r, "swapID")

	events, err := s.st.GetEventsBySwap(r.Context(), swapID)
	if err != nil {
		writeError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.LifecycleEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// GetMargin handles GET /api/v1/swaps/{swapID}/margin/{party}
func (s *Service) GetMargin(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}
	party := chi.URLParam(r, "party")

	buffer, fee, err := eng.Escrow().MarginRequirement(party)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	resp := map[string]decimal.Decimal{
		"margin_buffer":   buffer,
		"termination_fee": fee,
		"posted":          eng.Escrow().Posted(party),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetTokenBalance handles GET /api/v1/swaps/{swapID}/token/balances/{party}
func (s *Service) GetTokenBalance(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}
	party := chi.URLParam(r, "party")

	resp := map[string]decimal.Decimal{
		"balance":      eng.Tokens().BalanceOf(party),
		"total_supply": eng.Tokens().TotalSupply(),
		"max_supply":   eng.Tokens().MaxSupply(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MintToken handles POST /api/v1/swaps/{swapID}/token/mint
func (s *Service) MintToken(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req TokenMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := eng.Tokens().Mint(req.To, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{
		"balance":      eng.Tokens().BalanceOf(req.To),
		"total_supply": eng.Tokens().TotalSupply(),
	})
}

// TransferToken handles POST /api/v1/swaps/{swapID}/token/transfer
func (s *Service) TransferToken(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req TokenTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := eng.Tokens().Transfer(req.From, req.To, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{
		"from_balance": eng.Tokens().BalanceOf(req.From),
		"to_balance":   eng.Tokens().BalanceOf(req.To),
	})
}

// Incept handles POST /api/v1/swaps/{swapID}/incept
func (s *Service) Incept(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(eng *Engine, req LifecycleRequest) (*Transition, error) {
		return eng.Incept(req.terms())
	})
}

// Confirm handles POST /api/v1/swaps/{swapID}/confirm
func (s *Service) Confirm(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(eng *Engine, req LifecycleRequest) (*Transition, error) {
		return eng.Confirm(req.terms())
	})
}

// Cancel handles POST /api/v1/swaps/{swapID}/cancel
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(eng *Engine, req LifecycleRequest) (*Transition, error) {
		return eng.Cancel(req.terms())
	})
}

// lifecycle decodes a LifecycleRequest, runs the operation, and finalizes
// the transition.
func (s *Service) lifecycle(w http.ResponseWriter, r *http.Request, op func(*Engine, LifecycleRequest) (*Transition, error)) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Party == "" {
		writeError(w, "party is required", http.StatusBadRequest)
		return
	}

	tr, err := op(eng, req)
	if err != nil {
		s.reject(w, eng, err)
		return
	}

	s.finishTransition(r.Context(), w, eng, tr)
}

// InitiateValuation handles POST /api/v1/swaps/{swapID}/valuation
func (s *Service) InitiateValuation(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req PartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tr, err := eng.InitiateValuation(r.Context(), req.Party)
	if err != nil {
		s.reject(w, eng, err)
		return
	}

	s.finishTransition(r.Context(), w, eng, tr)
}

// FulfillOracle handles POST /api/v1/swaps/{swapID}/oracle/fulfill
func (s *Service) FulfillOracle(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req FulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tr, err := eng.FulfillValuation(req.Party, oracle.Fulfillment{
		RequestID: req.RequestID,
		Rate:      req.Rate,
	})
	if err != nil {
		s.reject(w, eng, err)
		return
	}

	s.finishTransition(r.Context(), w, eng, tr)
}

// RequestTermination handles POST /api/v1/swaps/{swapID}/terminate
func (s *Service) RequestTermination(w http.ResponseWriter, r *http.Request) {
	s.partyOp(w, r, func(eng *Engine, party string) (*Transition, error) {
		return eng.RequestTermination(party)
	})
}

// ConfirmTermination handles POST /api/v1/swaps/{swapID}/terminate/confirm
func (s *Service) ConfirmTermination(w http.ResponseWriter, r *http.Request) {
	s.partyOp(w, r, func(eng *Engine, party string) (*Transition, error) {
		return eng.ConfirmTermination(party)
	})
}

// Mature handles POST /api/v1/swaps/{swapID}/mature
func (s *Service) Mature(w http.ResponseWriter, r *http.Request) {
	s.partyOp(w, r, func(eng *Engine, party string) (*Transition, error) {
		return eng.Mature(party)
	})
}

func (s *Service) partyOp(w http.ResponseWriter, r *http.Request, op func(*Engine, string) (*Transition, error)) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req PartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Party == "" {
		writeError(w, "party is required", http.StatusBadRequest)
		return
	}

	tr, err := op(eng, req.Party)
	if err != nil {
		s.reject(w, eng, err)
		return
	}

	s.finishTransition(r.Context(), w, eng, tr)
}

// --- Settlement-asset handlers (local and test setup) ---

// MintSettlement handles POST /api/v1/settlement/mint
func (s *Service) MintSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.ledger.Mint(req.To, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{
		"balance": s.ledger.BalanceOf(req.To),
	})
}

// ApproveSettlement handles POST /api/v1/settlement/approve
func (s *Service) ApproveSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	eng, err := s.swaps.Get(req.SwapID)
	if err != nil {
		writeError(w, "swap not found: "+req.SwapID, http.StatusNotFound)
		return
	}

	if err := s.ledger.Approve(req.Party, eng.CustodyAccount(), req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{
		"allowance": s.ledger.Allowance(req.Party, eng.CustodyAccount()),
	})
}

// GetSettlementBalance handles GET /api/v1/settlement/balances/{party}
func (s *Service) GetSettlementBalance(w http.ResponseWriter, r *http.Request) {
	party := chi.URLParam(r, "party")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{
		"balance": s.ledger.BalanceOf(party),
	})
}

// --- helpers ---

// resolve loads the engine from the swapID route parameter.
func (s *Service) resolve(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	swapID := chi.URLParam(r, "swapID")
	eng, err := s.swaps.Get(swapID)
	if err != nil {
		writeError(w, "swap not found: "+swapID, http.StatusNotFound)
		return nil, false
	}
	return eng, true
}

// finishTransition persists the record and event, updates metrics,
// broadcasts, and writes the response. The engine state is already advanced;
// persistence failures are logged, not rolled back.
func (s *Service) finishTransition(ctx context.Context, w http.ResponseWriter, eng *Engine, tr *Transition) {
	record := eng.Record()

	if err := s.st.UpdateTradeRecord(ctx, eng.ID(), record); err != nil {
		slog.Error("persist trade record failed", "swap", eng.ID(), "err", err)
	}

	event := &model.LifecycleEvent{
		ID:        uuid.New().String(),
		SwapID:    eng.ID(),
		Type:      tr.Event,
		Party:     tr.Party,
		State:     tr.State,
		Amount:    tr.Amount,
		Timestamp: time.Now().UTC(),
	}
	if err := s.st.InsertEvent(ctx, event); err != nil {
		slog.Error("persist lifecycle event failed", "swap", eng.ID(), "err", err)
	}

	metrics.TransitionsTotal.WithLabelValues(tr.Event).Inc()
	metrics.EscrowCustody.Set(eng.Escrow().CustodyBalance().InexactFloat64())

	slog.Info("trade transition",
		"swap", eng.ID(),
		"event", tr.Event,
		"party", tr.Party,
		"state", tr.State.String(),
		"amount", tr.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   tr.Event,
			SwapID: eng.ID(),
			Party:  tr.Party,
			State:  tr.State.String(),
			Amount: tr.Amount.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TransitionResponse{
		SwapID: eng.ID(),
		Event:  tr.Event,
		Record: record,
		State:  tr.State.String(),
		Amount: tr.Amount,
	})
}

func (s *Service) reject(w http.ResponseWriter, eng *Engine, err error) {
	metrics.RejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
	slog.Info("lifecycle operation rejected", "swap", eng.ID(), "err", err)
	writeError(w, err.Error(), statusFor(err))
}

// rejectionReason buckets errors into low-cardinality metric labels.
func rejectionReason(err error) string {
	var wrongStateErr *WrongTradeStateError
	var mismatchErr *InconsistentTradeDataError
	var allowErr *settlement.InsufficientAllowanceError
	switch {
	case errors.As(err, &wrongStateErr):
		return "wrong_state"
	case errors.As(err, &mismatchErr):
		return "terms_mismatch"
	case errors.Is(err, ErrConfirmationExpired):
		return "expired"
	case errors.As(err, &allowErr):
		return "allowance"
	default:
		return "other"
	}
}

// statusFor maps domain errors to HTTP status codes. All lifecycle
// rejections are conflicts; malformed input is a bad request.
func statusFor(err error) int {
	var wrongStateErr *WrongTradeStateError
	var mismatchErr *InconsistentTradeDataError
	switch {
	case errors.As(err, &wrongStateErr),
		errors.As(err, &mismatchErr),
		errors.Is(err, ErrConfirmationExpired),
		errors.Is(err, ErrNotInitiator),
		errors.Is(err, ErrNotOracle),
		errors.Is(err, ErrUnknownRequest),
		errors.Is(err, ErrNotMatured):
		return http.StatusConflict
	case errors.Is(err, ErrNotParty):
		return http.StatusForbidden
	}

	var supplyErr *token.SupplyExceededMaxSupplyError
	var allowErr *settlement.InsufficientAllowanceError
	var balErr *settlement.InsufficientBalanceError
	switch {
	case errors.As(err, &supplyErr),
		errors.As(err, &allowErr),
		errors.As(err, &balErr):
		return http.StatusConflict
	}

	return http.StatusBadRequest
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
