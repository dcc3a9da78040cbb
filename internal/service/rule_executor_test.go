package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"autosell/internal/client/tradeskill"
	"autosell/internal/models"
)

func mkRule(id uint64, ruleType string, trigger float64) *models.Rule {
	return &models.Rule{
		ID:           id,
		RuleType:     ruleType,
		MarketID:     "m1",
		TokenID:      "t1",
		Side:         "SELL",
		OwnerRef:     "0xowner",
		TriggerPrice: trigger,
		Action:       datatypes.JSON([]byte(`{"type":"SELL_ALL"}`)),
		Status:       models.RuleStatusActive,
	}
}

func TestEvaluate_Boundaries(t *testing.T) {
	exec := &RuleExecutor{}
	cases := []struct {
		ruleType string
		trigger  float64
		price    float64
		want     bool
	}{
		{models.RuleTypeStopLoss, 0.40, 0.50, false},
		{models.RuleTypeStopLoss, 0.40, 0.45, false},
		{models.RuleTypeStopLoss, 0.40, 0.40, true},
		{models.RuleTypeStopLoss, 0.40, 0.38, true},
		{models.RuleTypeTrailingStop, 0.40, 0.41, false},
		{models.RuleTypeTrailingStop, 0.40, 0.40, true},
		{models.RuleTypeTakeProfit, 0.60, 0.59, false},
		{models.RuleTypeTakeProfit, 0.60, 0.60, true},
		{models.RuleTypeTakeProfit, 0.60, 0.70, true},
	}
	for _, tc := range cases {
		rule := models.Rule{RuleType: tc.ruleType, TriggerPrice: tc.trigger}
		if got := exec.Evaluate(rule, tc.price); got != tc.want {
			t.Fatalf("evaluate(%s trigger=%v price=%v)=%v want=%v",
				tc.ruleType, tc.trigger, tc.price, got, tc.want)
		}
	}
}

func TestEvaluate_StopLossPriceSequence(t *testing.T) {
	exec := &RuleExecutor{}
	rule := models.Rule{RuleType: models.RuleTypeStopLoss, TriggerPrice: 0.40}
	fired := []bool{}
	for _, price := range []float64{0.50, 0.45, 0.38} {
		fired = append(fired, exec.Evaluate(rule, price))
	}
	want := []bool{false, false, true}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("step %d fired=%v want=%v", i, fired[i], want[i])
		}
	}
}

func TestTrailingCandidate(t *testing.T) {
	if got := TrailingCandidate(0.50, 10); got != 0.45 {
		t.Fatalf("candidate=%v want=0.45", got)
	}
	if got := TrailingCandidate(0.40, 10); got != 0.36 {
		t.Fatalf("candidate=%v want=0.36", got)
	}
	// Cap at 0.99.
	if got := TrailingCandidate(1.0, 0.5); got != 0.99 {
		t.Fatalf("candidate=%v want=0.99", got)
	}
	// Round to 4 decimals.
	if got := TrailingCandidate(0.33333, 10); got != 0.3 {
		t.Fatalf("candidate=%v want=0.3", got)
	}
}

func TestMaybeAdjustTrailingTrigger_Ratchet(t *testing.T) {
	trailing := 10.0
	rule := mkRule(1, models.RuleTypeTrailingStop, 0.30)
	rule.TrailingPercent = &trailing
	repo := newStubRepo(rule)
	exec := &RuleExecutor{Repo: repo}
	ctx := context.Background()

	steps := []struct {
		price float64
		want  float64
	}{
		{0.50, 0.45}, // adopt
		{0.40, 0.45}, // candidate 0.36 rejected
		{0.60, 0.54}, // adopt
	}
	work := *rule
	for i, step := range steps {
		if err := exec.MaybeAdjustTrailingTrigger(ctx, &work, step.price); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if work.TriggerPrice != step.want {
			t.Fatalf("step %d trigger=%v want=%v", i, work.TriggerPrice, step.want)
		}
	}
	if got := repo.rules[1].TriggerPrice; got != 0.54 {
		t.Fatalf("stored trigger=%v want=0.54", got)
	}
}

func TestMaybeAdjustTrailingTrigger_Monotonic(t *testing.T) {
	trailing := 5.0
	rule := mkRule(1, models.RuleTypeTrailingStop, 0.20)
	rule.TrailingPercent = &trailing
	repo := newStubRepo(rule)
	exec := &RuleExecutor{Repo: repo}
	ctx := context.Background()

	prev := rule.TriggerPrice
	work := *rule
	for _, price := range []float64{0.5, 0.3, 0.9, 0.1, 0.7, 0.95, 0.2} {
		if err := exec.MaybeAdjustTrailingTrigger(ctx, &work, price); err != nil {
			t.Fatalf("adjust: %v", err)
		}
		if work.TriggerPrice < prev {
			t.Fatalf("trigger decreased from %v to %v at price %v", prev, work.TriggerPrice, price)
		}
		prev = work.TriggerPrice
	}
}

// tradeStub serves the trade-skill API for executor tests.
type tradeStub struct {
	mu       sync.Mutex
	holdings []tradeskill.Holding
	verdict  tradeskill.PlaceBetResult
	hold500  bool
	bets     []tradeskill.PlaceBetRequest
}

func (s *tradeStub) server(t *testing.T) (*httptest.Server, *tradeskill.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/holdings":
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.hold500 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(tradeskill.HoldingsResult{
				WalletAddress: "0xowner",
				Holdings:      s.holdings,
			})
		case "/api/v1/bets":
			var req tradeskill.PlaceBetRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			s.mu.Lock()
			s.bets = append(s.bets, req)
			verdict := s.verdict
			s.mu.Unlock()
			_ = json.NewEncoder(w).Encode(verdict)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, tradeskill.NewClient(srv.Client(), srv.URL, "")
}

func (s *tradeStub) placedAmounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.bets))
	for _, bet := range s.bets {
		out = append(out, bet.Amount.String())
	}
	return out
}

func holdingsOf(shares float64, redeemable bool) []tradeskill.Holding {
	return []tradeskill.Holding{{
		TokenID:    "t1",
		Shares:     decimal.NewFromFloat(shares),
		Redeemable: redeemable,
	}}
}

func newExecutor(repo *stubRepo, trade *tradeskill.Client) *RuleExecutor {
	return &RuleExecutor{
		Repo:   repo,
		Trade:  trade,
		Events: &EventLogService{Repo: repo},
	}
}

func TestExecute_InvalidAction_Permanent(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	rule.Action = datatypes.JSON([]byte(`{not json`))
	repo := newStubRepo(rule)
	stub := &tradeStub{holdings: holdingsOf(10, false)}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	_, err := exec.Execute(context.Background(), *rule)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("err=%v want permanent", err)
	}
	if got := repo.ruleStatus(1); got != models.RuleStatusFailed {
		t.Fatalf("status=%s want=FAILED", got)
	}
	if len(stub.bets) != 0 {
		t.Fatalf("bets placed=%d want=0", len(stub.bets))
	}
}

func TestExecute_ZeroHoldings_Permanent(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	repo := newStubRepo(rule)
	stub := &tradeStub{holdings: nil}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	_, err := exec.Execute(context.Background(), *rule)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("err=%v want permanent", err)
	}
	if got := repo.ruleStatus(1); got != models.RuleStatusFailed {
		t.Fatalf("status=%s want=FAILED", got)
	}
}

func TestExecute_RedeemablePosition_Permanent(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	repo := newStubRepo(rule)
	stub := &tradeStub{holdings: holdingsOf(10, true)}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	_, err := exec.Execute(context.Background(), *rule)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("err=%v want permanent", err)
	}
	if got := repo.ruleStatus(1); got != models.RuleStatusFailed {
		t.Fatalf("status=%s want=FAILED", got)
	}
}

func TestExecute_SellPartialClamps(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	rule.Action = datatypes.JSON([]byte(`{"type":"SELL_PARTIAL","amount":50}`))
	repo := newStubRepo(rule)
	orderID := "ord-1"
	stub := &tradeStub{
		holdings: holdingsOf(12.5, false),
		verdict:  tradeskill.PlaceBetResult{Status: tradeskill.VerdictExecuted, OrderID: &orderID},
	}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	result, err := exec.Execute(context.Background(), *rule)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Executed {
		t.Fatalf("executed=false want=true")
	}
	amounts := stub.placedAmounts()
	if len(amounts) != 1 || amounts[0] != "12.5" {
		t.Fatalf("placed amounts=%v want=[12.5]", amounts)
	}
}

func TestExecute_Executed_PersistsOrderID(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	repo := newStubRepo(rule)
	orderID := "ord-42"
	stub := &tradeStub{
		holdings: holdingsOf(3, false),
		verdict:  tradeskill.PlaceBetResult{Status: tradeskill.VerdictExecuted, OrderID: &orderID},
	}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	result, err := exec.Execute(context.Background(), *rule)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.OrderID == nil || *result.OrderID != "ord-42" {
		t.Fatalf("orderID=%v want=ord-42", result.OrderID)
	}
	stored := repo.rules[1]
	if stored.TriggerTxHash == nil || *stored.TriggerTxHash != "ord-42" {
		t.Fatalf("trigger_tx_hash=%v want=ord-42", stored.TriggerTxHash)
	}
	types := repo.eventTypes(1)
	if len(types) != 1 || types[0] != models.EventActionExecuted {
		t.Fatalf("events=%v want=[ACTION_EXECUTED]", types)
	}
}

func TestExecute_PendingApproval_NotAnError(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	repo := newStubRepo(rule)
	stub := &tradeStub{
		holdings: holdingsOf(3, false),
		verdict:  tradeskill.PlaceBetResult{Status: tradeskill.VerdictPendingApproval},
	}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	result, err := exec.Execute(context.Background(), *rule)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Executed {
		t.Fatalf("executed=true want=false")
	}
	if got := repo.ruleStatus(1); got != models.RuleStatusPendingApproval {
		t.Fatalf("status=%s want=PENDING_APPROVAL", got)
	}
	types := repo.eventTypes(1)
	if len(types) != 1 || types[0] != models.EventActionPendingApproval {
		t.Fatalf("events=%v want=[ACTION_PENDING_APPROVAL]", types)
	}
}

func TestExecute_Denied_Permanent(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	repo := newStubRepo(rule)
	reason := "position size limit exceeded"
	stub := &tradeStub{
		holdings: holdingsOf(3, false),
		verdict:  tradeskill.PlaceBetResult{Status: tradeskill.VerdictDenied, Reason: &reason},
	}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	_, err := exec.Execute(context.Background(), *rule)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("err=%v want permanent", err)
	}
	stored := repo.rules[1]
	if stored.Status != models.RuleStatusFailed {
		t.Fatalf("status=%s want=FAILED", stored.Status)
	}
	if stored.ErrorMessage == nil || *stored.ErrorMessage != reason {
		t.Fatalf("error_message=%v want=%q", stored.ErrorMessage, reason)
	}
}

func TestExecute_TransientHoldingsError(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	repo := newStubRepo(rule)
	stub := &tradeStub{hold500: true}
	_, trade := stub.server(t)
	exec := newExecutor(repo, trade)

	_, err := exec.Execute(context.Background(), *rule)
	if err == nil {
		t.Fatalf("want error")
	}
	if IsPermanent(err) {
		t.Fatalf("err=%v want transient", err)
	}
	// Transient trouble must not touch the status; the caller reverts the
	// claim.
	if got := repo.ruleStatus(1); got != models.RuleStatusActive {
		t.Fatalf("status=%s want=ACTIVE", got)
	}
}
