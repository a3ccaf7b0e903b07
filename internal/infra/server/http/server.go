// Package httpserver exposes HTTP handlers for the mission ledger and the price oracle.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/auth"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/pricestore"
	"github.com/kalefund/missiongate/internal/mission"
	"github.com/kalefund/missiongate/internal/observability"
	"github.com/kalefund/missiongate/internal/oracle"
	"github.com/kalefund/missiongate/internal/policy"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	healthPath = "/health"

	missionsPath        = "/missions"
	missionsCheckPath   = "/missions/check"
	missionDetailPrefix = missionsPath + "/"

	pricePath        = "/price"
	priceCrossPath   = "/price/cross"
	priceHistoryPath = "/price/history"
	priceStreamPath  = "/price/stream"

	settingsThresholdPath = "/settings/threshold"

	accountsPrefix = "/accounts/"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	orchestrator *mission.Orchestrator
	reader       *oracle.Reader
	authorizer   auth.Authorizer
	bus          observability.TelemetryBus
	logger       observability.Logger
}

// NewHandler creates the HTTP handler for mission and oracle operations.
func NewHandler(orchestrator *mission.Orchestrator, reader *oracle.Reader, authorizer auth.Authorizer, bus observability.TelemetryBus, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Log()
	}
	server := &httpServer{orchestrator: orchestrator, reader: reader, authorizer: authorizer, bus: bus, logger: logger}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealth,
	}))

	mux.Handle(missionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listMissions,
		http.MethodPost: server.openMission,
	}))
	mux.Handle(missionsCheckPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.checkAndCreateMission,
	}))
	mux.Handle(missionDetailPrefix, http.HandlerFunc(server.handleMissionDetail))

	mux.Handle(pricePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getPrice,
	}))
	mux.Handle(priceCrossPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getCrossPrice,
	}))
	mux.Handle(priceHistoryPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getPriceHistory,
	}))
	mux.Handle(priceStreamPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.streamPrices,
	}))

	mux.Handle(settingsThresholdPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getDropThreshold,
		http.MethodPut: server.putDropThreshold,
	}))

	mux.Handle(accountsPrefix, http.HandlerFunc(server.handleAccount))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) listMissions(w http.ResponseWriter, r *http.Request) {
	query := missionstore.Query{}
	if r.URL.Query().Get("active") == "true" {
		query.ActiveOnly = true
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = limit
	}
	missions, err := s.orchestrator.ListMissions(r.Context(), query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
}

type openMissionPayload struct {
	TargetLiquidity decimal.Decimal `json:"targetLiquidity"`
	RewardPool      decimal.Decimal `json:"rewardPool"`
	DurationHours   uint64          `json:"durationHours"`
	TriggerPrice    decimal.Decimal `json:"triggerPrice"`
}

func (s *httpServer) openMission(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	limitRequestBody(w, r)
	var payload openMissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	id, err := s.orchestrator.OpenMission(r.Context(), caller, mission.OpenParams{
		TargetLiquidity: payload.TargetLiquidity,
		RewardPool:      payload.RewardPool,
		DurationHours:   payload.DurationHours,
		TriggerPrice:    payload.TriggerPrice,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"missionId": id})
}

func (s *httpServer) checkAndCreateMission(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	opened, err := s.orchestrator.CheckAndCreateMission(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if opened == nil {
		writeJSON(w, http.StatusOK, map[string]any{"opened": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"opened": true, "missionId": *opened})
}

func (s *httpServer) handleMissionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, missionDetailPrefix), "/")
	segments := strings.Split(rest, "/")
	if rest == "" || len(segments) == 0 {
		writeError(w, http.StatusNotFound, "mission id required")
		return
	}
	missionID, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mission id")
		return
	}
	switch {
	case len(segments) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getMission(w, r, missionID)
	case len(segments) == 2 && segments[1] == "enlist":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.enlist(w, r, missionID)
	case len(segments) == 2 && segments[1] == "contributions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.addContribution(w, r, missionID)
	case len(segments) == 3 && segments[1] == "stakes":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getStake(w, r, missionID, segments[2])
	default:
		writeError(w, http.StatusNotFound, "unknown mission resource")
	}
}

func (s *httpServer) getMission(w http.ResponseWriter, r *http.Request, missionID uint64) {
	record, err := s.orchestrator.GetMission(r.Context(), missionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type enlistPayload struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *httpServer) enlist(w http.ResponseWriter, r *http.Request, missionID uint64) {
	caller, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	limitRequestBody(w, r)
	var payload enlistPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	stake, err := s.orchestrator.Enlist(r.Context(), caller, payload.User, missionID, payload.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stake)
}

type contributionPayload struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
	Proof  struct {
		Kind    string         `json:"kind,omitempty"`
		Payload map[string]any `json:"payload,omitempty"`
	} `json:"proof"`
}

func (s *httpServer) addContribution(w http.ResponseWriter, r *http.Request, missionID uint64) {
	caller, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	limitRequestBody(w, r)
	var payload contributionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	proof := policy.Proof{Kind: payload.Proof.Kind, Payload: payload.Proof.Payload}
	result, err := s.orchestrator.AddContribution(r.Context(), caller, payload.User, missionID, payload.Amount, proof)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *httpServer) getStake(w http.ResponseWriter, r *http.Request, missionID uint64, user string) {
	stake, err := s.orchestrator.GetStake(r.Context(), user, missionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stake)
}

func (s *httpServer) getPrice(w http.ResponseWriter, r *http.Request) {
	sample, err := s.orchestrator.CurrentPrice(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sample.Sentinel() {
		writeError(w, http.StatusServiceUnavailable, "no price available")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *httpServer) getCrossPrice(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	quote := r.URL.Query().Get("quote")
	if base == "" || quote == "" {
		writeError(w, http.StatusBadRequest, "base and quote required")
		return
	}
	sample := s.reader.CrossPrice(r.Context(), base, quote)
	if sample.Sentinel() {
		writeError(w, http.StatusServiceUnavailable, "no cross price available")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *httpServer) getPriceHistory(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset required")
		return
	}
	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	to, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}
	points, err := s.reader.History(r.Context(), asset, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if points == nil {
		points = []pricestore.Point{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "points": points})
}

func (s *httpServer) streamPrices(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := r.Context()
	events, err := s.bus.Subscribe(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

func (s *httpServer) getDropThreshold(w http.ResponseWriter, r *http.Request) {
	threshold, err := s.orchestrator.DropThreshold(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thresholdPct": threshold})
}

type thresholdPayload struct {
	ThresholdPct uint32 `json:"thresholdPct"`
}

func (s *httpServer) putDropThreshold(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	limitRequestBody(w, r)
	var payload thresholdPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := s.orchestrator.SetDropThreshold(r.Context(), caller, payload.ThresholdPct); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thresholdPct": payload.ThresholdPct})
}

type depositPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *httpServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, accountsPrefix), "/")
	segments := strings.Split(rest, "/")
	if rest == "" || len(segments) == 0 {
		writeError(w, http.StatusNotFound, "account required")
		return
	}
	account := segments[0]
	switch {
	case len(segments) == 2 && segments[1] == "balance":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		balance, err := s.orchestrator.Balance(r.Context(), account)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
	case len(segments) == 2 && segments[1] == "deposits":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		caller, ok := s.requirePrincipal(w, r)
		if !ok {
			return
		}
		limitRequestBody(w, r)
		var payload depositPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := s.orchestrator.FundAccount(r.Context(), caller, account, payload.Amount); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"account": account, "amount": payload.Amount})
	default:
		writeError(w, http.StatusNotFound, "unknown account resource")
	}
}

func (s *httpServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, err := s.principal(r)
	if err != nil {
		writeDomainError(w, err)
		return auth.Principal{}, false
	}
	return principal, true
}

func (s *httpServer) principal(r *http.Request) (auth.Principal, error) {
	if principal, ok := auth.FromContext(r.Context()); ok {
		return principal, nil
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return auth.Principal{}, errs.New("httpserver", errs.CodeUnauthorized,
			errs.WithMessage("bearer token required"))
	}
	return s.authorizer.Authenticate(r.Context(), token)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeUnauthorized:
		return http.StatusUnauthorized
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeAlreadyEnlisted, errs.CodeConflict:
		return http.StatusConflict
	case errs.CodeMissionInactive, errs.CodeMissionExpired, errs.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeOracleUnavailable, errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
