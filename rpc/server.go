package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claimchain/native/claim"
	nativecommon "claimchain/native/common"
	"claimchain/native/gov"
	"claimchain/native/offer"
	"claimchain/native/pool"
	"claimchain/native/settlement"
	"claimchain/native/token"
	"claimchain/observability"
	"claimchain/protocol"
)

type requestIDKey struct{}

// Server exposes the protocol over HTTP with JSON payloads.
type Server struct {
	node   *protocol.Protocol
	logger *slog.Logger
	idem   *IdempotencyStore
}

// NewServer builds the HTTP front end. The idempotency store is optional.
func NewServer(node *protocol.Protocol, logger *slog.Logger, idem *IdempotencyStore) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, logger: logger, idem: idem}
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/gov", func(r chi.Router) {
			r.Get("/params", s.handle("gov", "params", s.govParams))
			r.Post("/fees/propose", s.handle("gov", "propose_fees", s.govProposeFees))
			r.Post("/fees/revoke", s.handle("gov", "revoke_fees", s.govRevokeFees))
			r.Post("/periods/propose", s.handle("gov", "propose_periods", s.govProposePeriods))
			r.Post("/periods/revoke", s.handle("gov", "revoke_periods", s.govRevokePeriods))
			r.Post("/treasury/propose", s.handle("gov", "propose_treasury", s.govProposeTreasury))
			r.Post("/treasury/revoke", s.handle("gov", "revoke_treasury", s.govRevokeTreasury))
			r.Post("/fallback/propose", s.handle("gov", "propose_fallback", s.govProposeFallback))
			r.Post("/fallback/revoke", s.handle("gov", "revoke_fallback", s.govRevokeFallback))
			r.Post("/pause", s.handle("gov", "pause", s.govPause))
		})
		r.Route("/tokens", func(r chi.Router) {
			r.Post("/register", s.handle("tokens", "register", s.tokenRegister))
			r.Post("/approve", s.handle("tokens", "approve", s.tokenApprove))
			r.Get("/{asset}/balance/{holder}", s.handle("tokens", "balance", s.tokenBalance))
		})
		r.Route("/pools", func(r chi.Router) {
			r.Post("/", s.handle("pools", "create", s.poolCreate))
			r.Post("/batch", s.handle("pools", "batch_create", s.poolBatchCreate))
			r.Get("/{id}", s.handle("pools", "get", s.poolGet))
			r.Post("/{id}/liquidity/add", s.handle("pools", "add_liquidity", s.poolAddLiquidity))
			r.Post("/{id}/liquidity/remove", s.handle("pools", "remove_liquidity", s.poolRemoveLiquidity))
			r.Post("/{id}/settlement/submit", s.handle("settlement", "submit", s.settlementSubmit))
			r.Post("/{id}/settlement/challenge", s.handle("settlement", "challenge", s.settlementChallenge))
			r.Post("/{id}/settlement/confirm", s.handle("settlement", "confirm", s.settlementConfirm))
			r.Post("/{id}/redeem", s.handle("settlement", "redeem", s.settlementRedeem))
			r.Post("/{id}/tip", s.handle("claims", "tip", s.claimTip))
		})
		r.Route("/claims", func(r chi.Router) {
			r.Get("/{asset}/{recipient}", s.handle("claims", "claimable", s.claimClaimable))
			r.Post("/claim", s.handle("claims", "claim", s.claimClaim))
			r.Post("/transfer", s.handle("claims", "transfer", s.claimTransfer))
		})
		r.Route("/offers", func(r chi.Router) {
			r.Post("/create-pool/fill", s.handle("offers", "fill_create_pool", s.offerFillCreatePool))
			r.Post("/create-pool/cancel", s.handle("offers", "cancel_create_pool", s.offerCancelCreatePool))
			r.Post("/create-pool/state", s.handle("offers", "state_create_pool", s.offerStateCreatePool))
			r.Post("/add-liquidity/fill", s.handle("offers", "fill_add_liquidity", s.offerFillAddLiquidity))
			r.Post("/add-liquidity/cancel", s.handle("offers", "cancel_add_liquidity", s.offerCancelAddLiquidity))
			r.Post("/add-liquidity/state", s.handle("offers", "state_add_liquidity", s.offerStateAddLiquidity))
			r.Post("/remove-liquidity/fill", s.handle("offers", "fill_remove_liquidity", s.offerFillRemoveLiquidity))
			r.Post("/remove-liquidity/cancel", s.handle("offers", "cancel_remove_liquidity", s.offerCancelRemoveLiquidity))
			r.Post("/remove-liquidity/state", s.handle("offers", "state_remove_liquidity", s.offerStateRemoveLiquidity))
		})
	})
	return r
}

// Run serves the router until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type handlerFunc func(r *http.Request) (interface{}, error)

func (s *Server) handle(module, method string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		idemKey := ""
		if r.Method == http.MethodPost {
			idemKey = r.Header.Get("Idempotency-Key")
			if status, body, ok, err := s.idem.Lookup(idemKey); err == nil && ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotent-Replay", "true")
				w.WriteHeader(status)
				_, _ = w.Write(body)
				return
			}
		}

		payload, err := fn(r)
		status := http.StatusOK
		var body []byte
		if err != nil {
			status = statusForError(err)
			body, _ = json.Marshal(map[string]string{"error": err.Error()})
			s.logger.Warn("request failed",
				slog.String("module", module),
				slog.String("method", method),
				slog.Int("status", status),
				slog.String("error", err.Error()),
				slog.Any("requestId", r.Context().Value(requestIDKey{})),
			)
		} else {
			if payload == nil {
				payload = map[string]string{"status": "ok"}
			}
			if body, err = json.Marshal(payload); err != nil {
				status = http.StatusInternalServerError
				body, _ = json.Marshal(map[string]string{"error": "encoding response"})
			}
		}

		if r.Method == http.MethodPost && status < http.StatusInternalServerError {
			if err := s.idem.Remember(idemKey, status, body); err != nil {
				s.logger.Warn("idempotency store write failed", slog.String("error", err.Error()))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
		observability.ModuleMetrics().Observe(module, method, status, time.Since(start))
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, pool.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, gov.ErrNotOwner),
		errors.Is(err, settlement.ErrUnauthorized),
		errors.Is(err, offer.ErrNotMaker),
		errors.Is(err, offer.ErrTakerRestricted),
		errors.Is(err, offer.ErrInvalidSignature),
		errors.Is(err, token.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrStatusConflict),
		errors.Is(err, settlement.ErrStatusConflict),
		errors.Is(err, gov.ErrPendingUpdate),
		errors.Is(err, gov.ErrNoPendingUpdate),
		errors.Is(err, offer.ErrOfferCancelled),
		errors.Is(err, offer.ErrOfferExpired),
		errors.Is(err, claim.ErrTipNotOpen):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusLocked
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrInsufficientAllow),
		errors.Is(err, claim.ErrInsufficientClaim):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func poolIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pool id %q", raw)
	}
	return id, nil
}

// --- Governance handlers ---

func (s *Server) govParams(r *http.Request) (interface{}, error) {
	snapshot, err := s.node.GovernanceSnapshot(time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"protocolFeeRate":   formatAmount(snapshot.Fees.ProtocolRate),
		"settlementFeeRate": formatAmount(snapshot.Fees.SettlementRate),
		"submissionPeriod":  snapshot.Periods.Submission,
		"challengePeriod":   snapshot.Periods.Challenge,
		"reviewPeriod":      snapshot.Periods.Review,
		"fallbackPeriod":    snapshot.Periods.FallbackSubmission,
		"treasury":          formatAddress(snapshot.Treasury),
		"fallbackProvider":  formatAddress(snapshot.FallbackProvider),
	}, nil
}

type feesRequest struct {
	Caller         string `json:"caller"`
	ProtocolRate   string `json:"protocolRate"`
	SettlementRate string `json:"settlementRate"`
}

func (s *Server) govProposeFees(r *http.Request) (interface{}, error) {
	var req feesRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	protocolRate, err := parseAmount("protocolRate", req.ProtocolRate)
	if err != nil {
		return nil, err
	}
	settlementRate, err := parseAmount("settlementRate", req.SettlementRate)
	if err != nil {
		return nil, err
	}
	return nil, s.node.ProposeFees(caller, protocolRate, settlementRate)
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) callerFromBody(r *http.Request) ([20]byte, error) {
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		return [20]byte{}, err
	}
	return requireAddress("caller", req.Caller)
}

func (s *Server) govRevokeFees(r *http.Request) (interface{}, error) {
	caller, err := s.callerFromBody(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.RevokeFees(caller)
}

type periodsRequest struct {
	Caller           string `json:"caller"`
	SubmissionPeriod int64  `json:"submissionPeriod"`
	ChallengePeriod  int64  `json:"challengePeriod"`
	ReviewPeriod     int64  `json:"reviewPeriod"`
	FallbackPeriod   int64  `json:"fallbackPeriod"`
}

func (s *Server) govProposePeriods(r *http.Request) (interface{}, error) {
	var req periodsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	return nil, s.node.ProposePeriods(caller, req.SubmissionPeriod, req.ChallengePeriod, req.ReviewPeriod, req.FallbackPeriod)
}

func (s *Server) govRevokePeriods(r *http.Request) (interface{}, error) {
	caller, err := s.callerFromBody(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.RevokePeriods(caller)
}

type roleRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

func (s *Server) roleFromBody(r *http.Request) (caller, addr [20]byte, err error) {
	var req roleRequest
	if err = decodeBody(r, &req); err != nil {
		return
	}
	if caller, err = requireAddress("caller", req.Caller); err != nil {
		return
	}
	addr, err = requireAddress("address", req.Address)
	return
}

func (s *Server) govProposeTreasury(r *http.Request) (interface{}, error) {
	caller, addr, err := s.roleFromBody(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.ProposeTreasury(caller, addr)
}

func (s *Server) govRevokeTreasury(r *http.Request) (interface{}, error) {
	caller, err := s.callerFromBody(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.RevokeTreasury(caller)
}

func (s *Server) govProposeFallback(r *http.Request) (interface{}, error) {
	caller, addr, err := s.roleFromBody(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.ProposeFallbackProvider(caller, addr)
}

func (s *Server) govRevokeFallback(r *http.Request) (interface{}, error) {
	caller, err := s.callerFromBody(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.RevokeFallbackProvider(caller)
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) govPause(r *http.Request) (interface{}, error) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	return nil, s.node.SetReturnCollateralPause(caller, req.Paused)
}

// --- Token handlers ---

type registerAssetRequest struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Decimals       uint8  `json:"decimals"`
	TransferFeeBps uint32 `json:"transferFeeBps,omitempty"`
	MintAuthority  string `json:"mintAuthority,omitempty"`
}

func (s *Server) tokenRegister(r *http.Request) (interface{}, error) {
	var req registerAssetRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	addr, err := requireAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	authority, err := parseAddress("mintAuthority", req.MintAuthority)
	if err != nil {
		return nil, err
	}
	asset := &token.Asset{
		Address:        addr,
		Name:           req.Name,
		Symbol:         req.Symbol,
		Decimals:       req.Decimals,
		TransferFeeBps: req.TransferFeeBps,
		MintAuthority:  authority,
	}
	return nil, s.node.RegisterAsset(asset)
}

type approveRequest struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) tokenApprove(r *http.Request) (interface{}, error) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	asset, err := requireAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	owner, err := requireAddress("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := requireAddress("spender", req.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	return nil, s.node.Approve(asset, owner, spender, amount)
}

func (s *Server) tokenBalance(r *http.Request) (interface{}, error) {
	asset, err := requireAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		return nil, err
	}
	holder, err := requireAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		return nil, err
	}
	balance, err := s.node.BalanceOf(asset, holder)
	if err != nil {
		return nil, err
	}
	return map[string]string{"balance": formatAmount(balance)}, nil
}

// --- Pool handlers ---

type createPoolRequest struct {
	Caller string            `json:"caller"`
	Params poolParamsPayload `json:"params"`
}

func (s *Server) poolCreate(r *http.Request) (interface{}, error) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	params, err := req.Params.toParams()
	if err != nil {
		return nil, err
	}
	created, err := s.node.CreatePool(caller, params)
	if err != nil {
		return nil, err
	}
	return toPoolResponse(created), nil
}

type batchCreatePoolRequest struct {
	Caller string              `json:"caller"`
	Items  []poolParamsPayload `json:"items"`
}

func (s *Server) poolBatchCreate(r *http.Request) (interface{}, error) {
	var req batchCreatePoolRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	items := make([]pool.Params, 0, len(req.Items))
	for i, item := range req.Items {
		params, err := item.toParams()
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		items = append(items, params)
	}
	created, err := s.node.BatchCreatePool(caller, items)
	if err != nil {
		return nil, err
	}
	out := make([]poolResponse, 0, len(created))
	for _, p := range created {
		out = append(out, toPoolResponse(p))
	}
	return out, nil
}

func (s *Server) poolGet(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	p, err := s.node.GetPool(id)
	if err != nil {
		return nil, err
	}
	return toPoolResponse(p), nil
}

type addLiquidityRequest struct {
	Caller         string `json:"caller"`
	Amount         string `json:"amount"`
	LongRecipient  string `json:"longRecipient"`
	ShortRecipient string `json:"shortRecipient"`
}

func (s *Server) poolAddLiquidity(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	var req addLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	longRecipient, err := parseAddress("longRecipient", req.LongRecipient)
	if err != nil {
		return nil, err
	}
	shortRecipient, err := parseAddress("shortRecipient", req.ShortRecipient)
	if err != nil {
		return nil, err
	}
	return nil, s.node.AddLiquidity(caller, id, amount, longRecipient, shortRecipient)
}

type removeLiquidityRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) poolRemoveLiquidity(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	var req removeLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	returned, err := s.node.RemoveLiquidity(caller, id, amount)
	if err != nil {
		return nil, err
	}
	return map[string]string{"returned": formatAmount(returned)}, nil
}

// --- Settlement handlers ---

type submitValueRequest struct {
	Caller         string `json:"caller"`
	Value          string `json:"value"`
	AllowChallenge bool   `json:"allowChallenge"`
}

func (s *Server) settlementSubmit(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	var req submitValueRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		return nil, err
	}
	return nil, s.node.SetFinalReferenceValue(caller, id, value, req.AllowChallenge)
}

type challengeValueRequest struct {
	Caller string `json:"caller"`
	Value  string `json:"value"`
}

func (s *Server) settlementChallenge(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	var req challengeValueRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		return nil, err
	}
	return nil, s.node.ChallengeFinalReferenceValue(caller, id, value)
}

func (s *Server) settlementConfirm(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	return nil, s.node.ConfirmPendingValue(id)
}

type redeemRequest struct {
	Caller        string `json:"caller"`
	PositionToken string `json:"positionToken"`
	Amount        string `json:"amount"`
}

func (s *Server) settlementRedeem(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	positionToken, err := requireAddress("positionToken", req.PositionToken)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	paid, err := s.node.RedeemPositionToken(caller, id, positionToken, amount)
	if err != nil {
		return nil, err
	}
	return map[string]string{"paid": formatAmount(paid)}, nil
}

// --- Claim handlers ---

type tipRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) claimTip(r *http.Request) (interface{}, error) {
	id, err := poolIDParam(r)
	if err != nil {
		return nil, err
	}
	var req tipRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	return nil, s.node.AddTip(caller, id, amount)
}

func (s *Server) claimClaimable(r *http.Request) (interface{}, error) {
	asset, err := requireAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		return nil, err
	}
	recipient, err := requireAddress("recipient", chi.URLParam(r, "recipient"))
	if err != nil {
		return nil, err
	}
	claimable, err := s.node.Claimable(asset, recipient)
	if err != nil {
		return nil, err
	}
	return map[string]string{"claimable": formatAmount(claimable)}, nil
}

type claimRequest struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
}

func (s *Server) claimClaim(r *http.Request) (interface{}, error) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	asset, err := requireAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	recipient, err := requireAddress("recipient", req.Recipient)
	if err != nil {
		return nil, err
	}
	paid, err := s.node.ClaimFees(asset, recipient)
	if err != nil {
		return nil, err
	}
	return map[string]string{"paid": formatAmount(paid)}, nil
}

type transferClaimRequest struct {
	Asset  string `json:"asset"`
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) claimTransfer(r *http.Request) (interface{}, error) {
	var req transferClaimRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	asset, err := requireAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", req.Caller)
	if err != nil {
		return nil, err
	}
	to, err := requireAddress("to", req.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	return nil, s.node.TransferClaim(asset, caller, amount, to)
}

// --- Offer handlers ---

type fillOfferEnvelope struct {
	Taker     string          `json:"taker"`
	Signature string          `json:"signature"`
	Amount    string          `json:"amount"`
	Offer     json.RawMessage `json:"offer"`
}

func decodeFillEnvelope(r *http.Request) (taker [20]byte, sig []byte, amount *big.Int, raw json.RawMessage, err error) {
	var env fillOfferEnvelope
	if err = decodeBody(r, &env); err != nil {
		return
	}
	if taker, err = requireAddress("taker", env.Taker); err != nil {
		return
	}
	if sig, err = parseHex("signature", env.Signature); err != nil {
		return
	}
	if amount, err = parseAmount("amount", env.Amount); err != nil {
		return
	}
	raw = env.Offer
	return
}

func (s *Server) offerFillCreatePool(r *http.Request) (interface{}, error) {
	taker, sig, amount, raw, err := decodeFillEnvelope(r)
	if err != nil {
		return nil, err
	}
	var payload createPoolOfferPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	poolID, err := s.node.FillCreatePoolOffer(taker, o, sig, amount)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"poolId":    poolID,
		"offerHash": formatHash(o.Hash(s.node.OfferDomain())),
	}, nil
}

func (s *Server) offerFillAddLiquidity(r *http.Request) (interface{}, error) {
	taker, sig, amount, raw, err := decodeFillEnvelope(r)
	if err != nil {
		return nil, err
	}
	var payload addLiquidityOfferPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	if err := s.node.FillAddLiquidityOffer(taker, o, sig, amount); err != nil {
		return nil, err
	}
	return map[string]string{"offerHash": formatHash(o.Hash(s.node.OfferDomain()))}, nil
}

func (s *Server) offerFillRemoveLiquidity(r *http.Request) (interface{}, error) {
	taker, sig, amount, raw, err := decodeFillEnvelope(r)
	if err != nil {
		return nil, err
	}
	var payload removeLiquidityOfferPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	if err := s.node.FillRemoveLiquidityOffer(taker, o, sig, amount); err != nil {
		return nil, err
	}
	return map[string]string{"offerHash": formatHash(o.Hash(s.node.OfferDomain()))}, nil
}

type cancelOfferEnvelope struct {
	Caller string          `json:"caller"`
	Offer  json.RawMessage `json:"offer"`
}

func (s *Server) offerCancelCreatePool(r *http.Request) (interface{}, error) {
	var env cancelOfferEnvelope
	if err := decodeBody(r, &env); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", env.Caller)
	if err != nil {
		return nil, err
	}
	var payload createPoolOfferPayload
	if err := json.Unmarshal(env.Offer, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	return nil, s.node.CancelCreatePoolOffer(caller, o)
}

func (s *Server) offerCancelAddLiquidity(r *http.Request) (interface{}, error) {
	var env cancelOfferEnvelope
	if err := decodeBody(r, &env); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", env.Caller)
	if err != nil {
		return nil, err
	}
	var payload addLiquidityOfferPayload
	if err := json.Unmarshal(env.Offer, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	return nil, s.node.CancelAddLiquidityOffer(caller, o)
}

func (s *Server) offerCancelRemoveLiquidity(r *http.Request) (interface{}, error) {
	var env cancelOfferEnvelope
	if err := decodeBody(r, &env); err != nil {
		return nil, err
	}
	caller, err := requireAddress("caller", env.Caller)
	if err != nil {
		return nil, err
	}
	var payload removeLiquidityOfferPayload
	if err := json.Unmarshal(env.Offer, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	return nil, s.node.CancelRemoveLiquidityOffer(caller, o)
}

type offerStateEnvelope struct {
	Signature string          `json:"signature"`
	Offer     json.RawMessage `json:"offer"`
}

func (s *Server) offerStateCreatePool(r *http.Request) (interface{}, error) {
	var env offerStateEnvelope
	if err := decodeBody(r, &env); err != nil {
		return nil, err
	}
	sig, err := parseHex("signature", env.Signature)
	if err != nil {
		return nil, err
	}
	var payload createPoolOfferPayload
	if err := json.Unmarshal(env.Offer, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	st, err := s.node.GetCreatePoolOfferState(o, sig)
	if err != nil {
		return nil, err
	}
	return toOfferStateResponse(st), nil
}

func (s *Server) offerStateAddLiquidity(r *http.Request) (interface{}, error) {
	var env offerStateEnvelope
	if err := decodeBody(r, &env); err != nil {
		return nil, err
	}
	sig, err := parseHex("signature", env.Signature)
	if err != nil {
		return nil, err
	}
	var payload addLiquidityOfferPayload
	if err := json.Unmarshal(env.Offer, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	st, err := s.node.GetAddLiquidityOfferState(o, sig)
	if err != nil {
		return nil, err
	}
	return toOfferStateResponse(st), nil
}

func (s *Server) offerStateRemoveLiquidity(r *http.Request) (interface{}, error) {
	var env offerStateEnvelope
	if err := decodeBody(r, &env); err != nil {
		return nil, err
	}
	sig, err := parseHex("signature", env.Signature)
	if err != nil {
		return nil, err
	}
	var payload removeLiquidityOfferPayload
	if err := json.Unmarshal(env.Offer, &payload); err != nil {
		return nil, fmt.Errorf("decoding offer: %w", err)
	}
	o, err := payload.toOffer()
	if err != nil {
		return nil, err
	}
	st, err := s.node.GetRemoveLiquidityOfferState(o, sig)
	if err != nil {
		return nil, err
	}
	return toOfferStateResponse(st), nil
}
