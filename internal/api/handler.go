package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/tally/internal/caps"
	"github.com/opensource-finance/tally/internal/cardid"
	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/rates"
	"github.com/opensource-finance/tally/internal/repository"
	"github.com/opensource-finance/tally/internal/rules"
	"github.com/opensource-finance/tally/internal/simulate"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.UsageCache
	bus          domain.EventBus
	matcher      *rules.Matcher
	accountant   *caps.Accountant
	normalizer   *rates.Normalizer
	orchestrator *simulate.Orchestrator
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.UsageCache, bus domain.EventBus, matcher *rules.Matcher, accountant *caps.Accountant, normalizer *rates.Normalizer, orchestrator *simulate.Orchestrator, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		matcher:      matcher,
		accountant:   accountant,
		normalizer:   normalizer,
		orchestrator: orchestrator,
		version:      version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// SimulateResponse is the response for POST /simulate.
type SimulateResponse struct {
	Results  []domain.CardSimulation `json:"results"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Simulate handles POST /simulate requests, scoring a hypothetical
// purchase against every active card.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if req.Currency == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency is required",
		})
		return
	}

	results, err := h.orchestrator.Simulate(ctx, &req)
	if err != nil {
		slog.Error("simulation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "simulation failed",
		})
		return
	}

	resp := SimulateResponse{Results: results}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// PreviewRequest is the request body for POST /preview: a simulation
// scoped to one known card.
type PreviewRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
	domain.SimulationRequest
}

// Preview handles POST /preview requests.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.PaymentMethodID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "paymentMethodId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	pm, err := h.repo.GetPaymentMethod(ctx, req.PaymentMethodID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "payment method not found",
			})
			return
		}
		slog.Error("failed to get payment method", "id", req.PaymentMethodID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load payment method",
		})
		return
	}

	result := h.orchestrator.EvaluateCard(ctx, pm, &req.SimulationRequest)
	writeJSON(w, http.StatusOK, result)
}

// GetCapUsage handles GET /cap-usage/{paymentMethodID}, returning the
// current consumption of every cap on the card.
func (h *Handler) GetCapUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pmID := chi.URLParam(r, "paymentMethodID")

	pm, err := h.repo.GetPaymentMethod(ctx, pmID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "payment method not found",
			})
			return
		}
		slog.Error("failed to get payment method", "id", pmID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load payment method",
		})
		return
	}

	now := time.Now().UTC()
	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "at must be RFC3339",
			})
			return
		}
		now = parsed.UTC()
	}

	cardTypeID := cardid.Generate(pm.Issuer, pm.Name)
	ruleSet, err := h.repo.GetRulesForCardType(ctx, cardTypeID)
	if err != nil {
		slog.Error("failed to load rules", "card_type_id", cardTypeID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	usage, err := h.accountant.GetCapUsage(ctx, ruleSet, pm, now)
	if err != nil {
		slog.Error("failed to compute cap usage", "payment_method_id", pmID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute cap usage",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paymentMethodId": pm.ID,
		"cardTypeId":      cardTypeID,
		"at":              now.Format(time.RFC3339),
		"usage":           usage,
	})
}

// ListRules returns rules, optionally filtered by card type.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		ruleSet []*domain.RewardRule
		err     error
	)
	if cardTypeID := r.URL.Query().Get("cardTypeId"); cardTypeID != "" {
		ruleSet, err = h.repo.GetRulesForCardType(ctx, cardTypeID)
	} else {
		ruleSet, err = h.repo.ListRules(ctx)
	}
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleSet,
		"count": len(ruleSet),
	})
}

// CreateRule validates and persists a reward rule. Expression
// conditions are compiled here so a broken expression never reaches
// the matcher at evaluation time.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body: " + err.Error(),
		})
		return
	}

	if err := h.matcher.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", rule.ID, "card_type_id", rule.CardTypeID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// ReloadRules re-validates every stored rule, recompiling expression
// conditions. Rules that fail are reported but left in place.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ruleSet, err := h.repo.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	var failures []string
	for _, rule := range ruleSet {
		if err := h.matcher.ValidateRule(rule); err != nil {
			failures = append(failures, err.Error())
		}
	}

	slog.Info("rules reloaded from database",
		"count", len(ruleSet),
		"failures", len(failures),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(ruleSet),
		"failures": failures,
	})
}

// GetRates returns the conversion rate table.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	ratesList, err := h.repo.GetRates(r.Context())
	if err != nil {
		slog.Error("failed to list conversion rates", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list conversion rates",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rates": ratesList,
		"count": len(ratesList),
	})
}

// UpdateRatesRequest is the request body for PUT /rates.
type UpdateRatesRequest struct {
	Rates []domain.ConversionRate `json:"rates"`
}

// UpdateRates upserts conversion rates and refreshes the normalizer
// snapshot. The operation is idempotent.
func (h *Handler) UpdateRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Rates) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rates must not be empty",
		})
		return
	}

	if err := h.normalizer.BatchUpdate(ctx, req.Rates); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("conversion rates updated", "count", len(req.Rates))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated": len(req.Rates),
		"loaded":  h.normalizer.RateCount(),
	})
}

// ListPaymentMethods returns active cards with their derived card
// type IDs.
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.repo.ListActivePaymentMethods(r.Context())
	if err != nil {
		slog.Error("failed to list payment methods", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list payment methods",
		})
		return
	}

	type entry struct {
		*domain.PaymentMethod
		CardTypeID string `json:"cardTypeId"`
	}
	entries := make([]entry, len(methods))
	for i, pm := range methods {
		entries[i] = entry{PaymentMethod: pm, CardTypeID: cardid.Generate(pm.Issuer, pm.Name)}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paymentMethods": entries,
		"count":          len(entries),
	})
}

// CreatePaymentMethod registers a card.
func (h *Handler) CreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var pm domain.PaymentMethod
	if err := json.NewDecoder(r.Body).Decode(&pm); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if pm.Issuer == "" || pm.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "issuer and name are required",
		})
		return
	}
	if pm.StatementStartDay < 0 || pm.StatementStartDay > 31 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "statementStartDay must be between 1 and 31",
		})
		return
	}
	if pm.ID == "" {
		pm.ID = uuid.New().String()
	}

	if err := h.repo.SavePaymentMethod(ctx, &pm); err != nil {
		slog.Error("failed to save payment method", "id", pm.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save payment method",
		})
		return
	}

	slog.Info("payment method saved", "id", pm.ID, "issuer", pm.Issuer, "name", pm.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"paymentMethod": pm,
		"cardTypeId":    cardid.Generate(pm.Issuer, pm.Name),
	})
}

// CreateTransaction records a ledger entry and announces the write so
// cached cap usage for the card is invalidated.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if req.PaymentMethodID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "paymentMethodId is required",
		})
		return
	}

	if _, err := h.repo.GetPaymentMethod(ctx, req.PaymentMethodID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown payment method",
			})
			return
		}
		slog.Error("failed to check payment method", "id", req.PaymentMethodID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to check payment method",
		})
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	h.publishTransactionEvent(ctx, domain.TopicTransactionCreated, tx.ID, tx.PaymentMethodID, "created")

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// DeleteTransaction soft-deletes a ledger entry and announces the
// write. The deleted row drops out of every cap sum.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	if err := h.repo.DeleteTransaction(ctx, txID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to delete transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete transaction",
		})
		return
	}

	h.publishTransactionEvent(ctx, domain.TopicTransactionDeleted, txID, tx.PaymentMethodID, "deleted")

	writeJSON(w, http.StatusOK, map[string]string{
		"deleted": txID,
	})
}

// publishTransactionEvent announces a ledger write on the bus. Publish
// failures are logged, not surfaced: the write itself succeeded and
// the cached usage will still expire by TTL.
func (h *Handler) publishTransactionEvent(ctx context.Context, topic, txID, paymentMethodID, action string) {
	if h.bus == nil {
		return
	}

	payload, _ := json.Marshal(domain.TransactionEvent{
		TransactionID:   txID,
		PaymentMethodID: paymentMethodID,
		Action:          action,
		At:              time.Now().UnixNano(),
	})

	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish transaction event",
			"topic", topic,
			"transaction_id", txID,
			"error", err,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
