package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tabpay/constraints"
	"tabpay/fees"
	"tabpay/loyalty"
	"tabpay/merchants"
	"tabpay/pipeline"
	"tabpay/settlement"
	"tabpay/storage"
)

const maxRequestBody = 1 << 20

// ConstraintsRequest is the payload accepted by POST /v1/constraints/check.
type ConstraintsRequest struct {
	Amount     string `json:"amount"`
	MerchantID string `json:"merchantId,omitempty"`
}

// FeeQuoteRequest is the payload accepted by POST /v1/fees/quote.
type FeeQuoteRequest struct {
	Amount    string `json:"amount"`
	AccountID string `json:"accountId"`
}

// SettlementRequest is the payload accepted by POST /v1/settlement.
type SettlementRequest struct {
	AccountID  string `json:"accountId"`
	Amount     string `json:"amount"`
	MerchantID string `json:"merchantId,omitempty"`
	ReferrerID string `json:"referrerId,omitempty"`
}

// PipelineRequest is the payload accepted by POST /v1/pipeline.
type PipelineRequest struct {
	AccountID        string `json:"accountId"`
	Amount           string `json:"amount"`
	MerchantID       string `json:"merchantId,omitempty"`
	ReferrerID       string `json:"referrerId,omitempty"`
	FirstTransaction *bool  `json:"isFirstTransaction,omitempty"`
}

// MerchantRequest is the payload accepted by PUT /v1/merchants/{id}.
type MerchantRequest struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	BusyMinimum  string `json:"busyMinimum,omitempty"`
	AcceptsToken bool   `json:"acceptsToken"`
	OpensAtUTC   uint8  `json:"opensAtUtc"`
	ClosesAtUTC  uint8  `json:"closesAtUtc"`
}

func (s *Server) handleConstraintsCheck(w http.ResponseWriter, r *http.Request) {
	var req ConstraintsRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	merchant, ok := s.resolveMerchant(w, r, req.MerchantID)
	if !ok {
		return
	}
	result, err := s.evaluator.Evaluate(amount, merchant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderCheck(result))
}

func (s *Server) handleFeeQuote(w http.ResponseWriter, r *http.Request) {
	var req FeeQuoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	profile, _, ok := s.resolveProfile(w, r, req.AccountID)
	if !ok {
		return
	}
	snapshot := s.snapshot(r.Context())
	result, err := s.calculator.Calculate(amount, snapshot, profile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveFee(result.EffectiveFeeBps)
		s.metrics.ObserveStage("fees", result.Latency)
	}
	s.writeJSON(w, http.StatusOK, renderFees(result))
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	profile, firstTransaction, ok := s.resolveProfile(w, r, req.AccountID)
	if !ok {
		return
	}
	snapshot := s.snapshot(r.Context())
	result, err := s.engine.Settle(settlement.Input{
		Account:          strings.TrimSpace(req.AccountID),
		Amount:           amount,
		Profile:          profile,
		TokenRate:        tokenRate(snapshot),
		FirstTransaction: firstTransaction,
		MerchantID:       req.MerchantID,
		ReferrerID:       req.ReferrerID,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.persistSettlement(w, r, result) {
		return
	}
	totals, err := s.store.Totals(r.Context(), req.AccountID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload := renderSettlement(result)
	payload["aggregate"] = renderTotals(totals)
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	var req PipelineRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	merchant, ok := s.resolveMerchant(w, r, req.MerchantID)
	if !ok {
		return
	}
	profile, derivedFirst, ok := s.resolveProfile(w, r, req.AccountID)
	if !ok {
		return
	}
	firstTransaction := derivedFirst
	if req.FirstTransaction != nil {
		firstTransaction = *req.FirstTransaction
	}
	snapshot := s.snapshot(r.Context())

	result, err := s.pipe.Run(pipeline.Input{
		Account:          strings.TrimSpace(req.AccountID),
		Amount:           amount,
		Merchant:         merchant,
		Market:           snapshot,
		Profile:          profile,
		TokenRate:        tokenRate(snapshot),
		FirstTransaction: firstTransaction,
		ReferrerID:       req.ReferrerID,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveOutcome(result.Success, result.BlockedBy)
		s.metrics.ObserveStage("constraints", result.Constraints.Latency)
		if result.Success {
			s.metrics.ObserveStage("fees", result.Fees.Latency)
			s.metrics.ObserveStage("settlement", result.Settlement.Latency)
			s.metrics.ObserveFee(result.Fees.EffectiveFeeBps)
			for _, item := range result.Settlement.Items {
				s.metrics.ObserveReward(string(item.Type))
			}
		}
	}
	if result.Success {
		if !s.persistSettlement(w, r, result.Settlement) {
			return
		}
	}
	s.writeJSON(w, http.StatusOK, renderPipeline(result))
}

func (s *Server) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	if account == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("account id required"))
		return
	}
	profile, err := s.store.GetProfile(r.Context(), account)
	if errors.Is(err, storage.ErrProfileNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	totals, err := s.store.Totals(r.Context(), account)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":   renderProfile(profile),
		"aggregate": renderTotals(totals),
	})
}

func (s *Server) handleMerchantUpsert(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req MerchantRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, err := merchants.ParseStatus(req.Status)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	busyMinimum := big.NewInt(0)
	if strings.TrimSpace(req.BusyMinimum) != "" {
		busyMinimum, err = parseAmount(req.BusyMinimum)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	record := merchants.Constraints{
		ID:           id,
		Name:         req.Name,
		Status:       status,
		BusyMinimum:  busyMinimum,
		AcceptsToken: req.AcceptsToken,
		OpensAtUTC:   req.OpensAtUTC,
		ClosesAtUTC:  req.ClosesAtUTC,
		UpdatedAt:    s.nowFn().UTC(),
	}
	if err := record.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpsertMerchant(r.Context(), record); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderMerchant(record))
}

func (s *Server) handleMerchantGet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	record, err := s.store.GetMerchant(r.Context(), id)
	if errors.Is(err, merchants.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderMerchant(record))
}

// resolveMerchant loads merchant state when an id is supplied. A missing id
// is valid: the evaluator then applies the process-wide defaults.
func (s *Server) resolveMerchant(w http.ResponseWriter, r *http.Request, id string) (*merchants.Constraints, bool) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, true
	}
	record, err := s.store.GetMerchant(r.Context(), trimmed)
	if errors.Is(err, merchants.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return &record, true
}

// resolveProfile loads the account's loyalty profile, creating the zeroed
// entry profile on first contact. The second return reports whether this is
// the account's first transaction.
func (s *Server) resolveProfile(w http.ResponseWriter, r *http.Request, account string) (loyalty.Profile, bool, bool) {
	trimmed := strings.TrimSpace(account)
	if trimmed == "" {
		s.writeError(w, http.StatusBadRequest, loyalty.ErrAccountRequired)
		return loyalty.Profile{}, false, false
	}
	profile, err := s.store.GetProfile(r.Context(), trimmed)
	if errors.Is(err, storage.ErrProfileNotFound) {
		return loyalty.NewProfile(trimmed, s.nowFn()), true, true
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return loyalty.Profile{}, false, false
	}
	return profile, false, true
}

func (s *Server) persistSettlement(w http.ResponseWriter, r *http.Request, result settlement.Result) bool {
	if err := s.store.InsertRewards(r.Context(), result.Items); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return false
	}
	if err := s.store.SaveProfile(r.Context(), result.Profile); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func renderCheck(result constraints.CheckResult) map[string]interface{} {
	return map[string]interface{}{
		"allowed":   result.Allowed,
		"reason":    result.Reason,
		"status":    string(result.Status),
		"minAmount": amountString(result.MinAmount),
		"maxAmount": amountString(result.MaxAmount),
		"latencyUs": result.Latency.Microseconds(),
	}
}

func renderFees(result fees.Result) map[string]interface{} {
	breakdown := make([]string, 0, len(result.Breakdown))
	for _, adjustment := range result.Breakdown {
		breakdown = append(breakdown, adjustment.String())
	}
	return map[string]interface{}{
		"baseFeeBps":       result.BaseFeeBps,
		"netAdjustmentBps": result.NetAdjustmentBps,
		"effectiveFeeBps":  result.EffectiveFeeBps,
		"clamped":          result.Clamped,
		"breakdown":        breakdown,
		"tier":             result.Tier.String(),
		"volatility":       string(result.Snapshot.Volatility),
		"swapsLastHour":    result.Snapshot.SwapsLastHour,
		"latencyUs":        result.Latency.Microseconds(),
	}
}

func renderSettlement(result settlement.Result) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, map[string]interface{}{
			"id":          item.ID,
			"type":        string(item.Type),
			"recipient":   item.Recipient,
			"amount":      amountString(item.Amount),
			"txAmount":    amountString(item.TxAmount),
			"rateBps":     item.RateBps,
			"tier":        item.Tier.String(),
			"description": item.Description,
			"status":      string(item.Status),
			"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]interface{}{
		"items":       items,
		"totalReward": amountString(result.TotalReward),
		"profile":     renderProfile(result.Profile),
		"latencyUs":   result.Latency.Microseconds(),
	}
}

func renderProfile(profile loyalty.Profile) map[string]interface{} {
	return map[string]interface{}{
		"account":    profile.Account,
		"tier":       profile.Tier.String(),
		"spendTotal": amountString(profile.SpendTotal),
		"txCount":    profile.TxCount,
		"streakDays": profile.StreakDays,
		"joinedAt":   profile.JoinedAt.UTC().Format(time.RFC3339),
	}
}

func renderTotals(totals storage.RewardTotals) map[string]interface{} {
	counts := make(map[string]uint64, len(totals.CountByType))
	for rewardType, count := range totals.CountByType {
		counts[string(rewardType)] = count
	}
	return map[string]interface{}{
		"account":     totals.Account,
		"totalEarned": amountString(totals.TotalEarned),
		"countByType": counts,
	}
}

func renderMerchant(record merchants.Constraints) map[string]interface{} {
	return map[string]interface{}{
		"id":           record.ID,
		"name":         record.Name,
		"status":       string(record.Status),
		"busyMinimum":  amountString(record.BusyMinimum),
		"acceptsToken": record.AcceptsToken,
		"opensAtUtc":   record.OpensAtUTC,
		"closesAtUtc":  record.ClosesAtUTC,
		"updatedAt":    record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func renderPipeline(result pipeline.Result) map[string]interface{} {
	payload := map[string]interface{}{
		"success":      result.Success,
		"constraints":  renderCheck(result.Constraints),
		"fees":         renderFees(result.Fees),
		"settlement":   renderSettlement(result.Settlement),
		"totalLatency": result.TotalLatency.Microseconds(),
	}
	if !result.Success {
		payload["blockedBy"] = result.BlockedBy
		payload["reason"] = result.Reason
	}
	return payload
}

func amountString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
