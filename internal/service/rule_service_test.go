package service

import (
	"context"
	"testing"

	"autosell/internal/models"
)

func TestCreateRule_Validation(t *testing.T) {
	repo := newStubRepo()
	svc := &RuleService{Repo: repo, Events: &EventLogService{Repo: repo}}
	ctx := context.Background()

	valid := CreateRuleInput{
		RuleType:     models.RuleTypeStopLoss,
		MarketID:     "m1",
		TokenID:      "t1",
		Side:         "SELL",
		OwnerRef:     "0xowner",
		TriggerPrice: 0.40,
		Action:       models.SellAction{Type: models.ActionSellAll},
	}
	item, err := svc.Create(ctx, valid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.Status != models.RuleStatusActive {
		t.Fatalf("status=%s want=ACTIVE", item.Status)
	}

	bad := []CreateRuleInput{
		func() CreateRuleInput { v := valid; v.RuleType = "LIMIT"; return v }(),
		func() CreateRuleInput { v := valid; v.Side = "HOLD"; return v }(),
		func() CreateRuleInput { v := valid; v.TriggerPrice = 0; return v }(),
		func() CreateRuleInput { v := valid; v.TriggerPrice = 1; return v }(),
		func() CreateRuleInput { v := valid; v.TokenID = ""; return v }(),
		func() CreateRuleInput {
			v := valid
			v.RuleType = models.RuleTypeTrailingStop
			v.TrailingPercent = nil
			return v
		}(),
		func() CreateRuleInput {
			v := valid
			v.Action = models.SellAction{Type: models.ActionSellPartial}
			return v
		}(),
	}
	for i, input := range bad {
		if _, err := svc.Create(ctx, input); err == nil {
			t.Fatalf("case %d: want validation error", i)
		}
	}
}

func TestResolveApproval_Approved(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
	rule.Status = models.RuleStatusPendingApproval
	repo := newStubRepo(rule)
	svc := &RuleService{Repo: repo, Events: &EventLogService{Repo: repo}}

	orderID := "ord-9"
	item, err := svc.ResolveApproval(context.Background(), 1, ApprovalApproved, &orderID, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if item.Status != models.RuleStatusTriggered {
		t.Fatalf("status=%s want=TRIGGERED", item.Status)
	}
	if item.TriggerTxHash == nil || *item.TriggerTxHash != "ord-9" {
		t.Fatalf("trigger_tx_hash=%v want=ord-9", item.TriggerTxHash)
	}
	types := repo.eventTypes(1)
	if len(types) != 1 || types[0] != models.EventActionExecuted {
		t.Fatalf("events=%v want=[ACTION_EXECUTED]", types)
	}
}

func TestResolveApproval_DeniedAndTimedOutAreTerminal(t *testing.T) {
	for _, outcome := range []string{ApprovalDenied, ApprovalTimedOut} {
		rule := mkRule(1, models.RuleTypeStopLoss, 0.40)
		rule.Status = models.RuleStatusPendingApproval
		repo := newStubRepo(rule)
		svc := &RuleService{Repo: repo, Events: &EventLogService{Repo: repo}}

		item, err := svc.ResolveApproval(context.Background(), 1, outcome, nil, nil)
		if err != nil {
			t.Fatalf("%s: resolve: %v", outcome, err)
		}
		if item.Status != models.RuleStatusFailed {
			t.Fatalf("%s: status=%s want=FAILED", outcome, item.Status)
		}
		if item.ErrorMessage == nil {
			t.Fatalf("%s: error_message unset", outcome)
		}
	}
}

func TestResolveApproval_RejectsNonPendingRule(t *testing.T) {
	rule := mkRule(1, models.RuleTypeStopLoss, 0.40) // ACTIVE
	repo := newStubRepo(rule)
	svc := &RuleService{Repo: repo, Events: &EventLogService{Repo: repo}}

	if _, err := svc.ResolveApproval(context.Background(), 1, ApprovalApproved, nil, nil); err == nil {
		t.Fatalf("want error for non-pending rule")
	}
	if got := repo.ruleStatus(1); got != models.RuleStatusActive {
		t.Fatalf("status=%s want=ACTIVE (unchanged)", got)
	}
}

func TestCancel_FromActiveAndPendingOnly(t *testing.T) {
	active := mkRule(1, models.RuleTypeStopLoss, 0.40)
	pending := mkRule(2, models.RuleTypeStopLoss, 0.40)
	pending.Status = models.RuleStatusPendingApproval
	failed := mkRule(3, models.RuleTypeStopLoss, 0.40)
	failed.Status = models.RuleStatusFailed
	repo := newStubRepo(active, pending, failed)
	svc := &RuleService{Repo: repo}
	ctx := context.Background()

	for _, id := range []uint64{1, 2} {
		ok, err := svc.Cancel(ctx, id)
		if err != nil || !ok {
			t.Fatalf("cancel %d: ok=%v err=%v", id, ok, err)
		}
		if got := repo.ruleStatus(id); got != models.RuleStatusCanceled {
			t.Fatalf("rule %d status=%s want=CANCELED", id, got)
		}
	}
	ok, err := svc.Cancel(ctx, 3)
	if err != nil {
		t.Fatalf("cancel terminal: %v", err)
	}
	if ok {
		t.Fatalf("terminal rule should not be cancelable")
	}
}
