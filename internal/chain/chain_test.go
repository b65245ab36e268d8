package chain_test

import (
	"errors"
	"testing"

	"relay/internal/chain"
	"relay/internal/domain"
	"relay/internal/roles"
)

func rec(from, to roles.Role, success *bool) domain.DelegationRecord {
	return domain.DelegationRecord{
		TaskID:   "t1",
		FromRole: string(from),
		ToRole:   string(to),
		Success:  success,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestReplayEmptyChain(t *testing.T) {
	p, err := chain.Replay("t1", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if p.Owner != nil {
		t.Fatalf("expected no owner, got %s", *p.Owner)
	}
	if _, ok := p.Delegator(); ok {
		t.Fatalf("expected no delegator")
	}
}

func TestReplayForwardChainBuildsStack(t *testing.T) {
	records := []domain.DelegationRecord{
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
		rec(roles.Architecture, roles.Implementation, boolPtr(true)),
		rec(roles.Implementation, roles.Review, nil),
	}
	p, err := chain.Replay("t1", records)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if p.Owner == nil || *p.Owner != roles.Review {
		t.Fatalf("expected owner review, got %v", p.Owner)
	}
	if len(p.Stack) != 3 {
		t.Fatalf("expected 3 pending delegators, got %d", len(p.Stack))
	}
	d, ok := p.Delegator()
	if !ok || d != roles.Implementation {
		t.Fatalf("expected delegator implementation, got %s", d)
	}
}

func TestReplayUnwindsOnReturn(t *testing.T) {
	records := []domain.DelegationRecord{
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
		rec(roles.Architecture, roles.Intake, boolPtr(true)),
	}
	p, err := chain.Replay("t1", records)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if p.Owner == nil || *p.Owner != roles.Intake {
		t.Fatalf("expected owner intake, got %v", p.Owner)
	}
	if len(p.Stack) != 0 {
		t.Fatalf("expected empty stack, got %d frames", len(p.Stack))
	}
}

func TestReplayRejectionUnwinds(t *testing.T) {
	records := []domain.DelegationRecord{
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
		rec(roles.Architecture, roles.Intake, boolPtr(false)),
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
	}
	p, err := chain.Replay("t1", records)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if p.Owner == nil || *p.Owner != roles.Architecture {
		t.Fatalf("expected owner architecture, got %v", p.Owner)
	}
	d, ok := p.Delegator()
	if !ok || d != roles.Intake {
		t.Fatalf("expected delegator intake after redo, got %s", d)
	}
}

func TestReplayDeepRejectionSkipsIntermediates(t *testing.T) {
	records := []domain.DelegationRecord{
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
		rec(roles.Architecture, roles.Implementation, boolPtr(true)),
		rec(roles.Implementation, roles.Intake, boolPtr(false)),
	}
	p, err := chain.Replay("t1", records)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if p.Owner == nil || *p.Owner != roles.Intake {
		t.Fatalf("expected owner intake, got %v", p.Owner)
	}
	if len(p.Stack) != 0 {
		t.Fatalf("expected abandoned frames popped, got %d", len(p.Stack))
	}
}

func TestReplayRejectsBrokenLinkage(t *testing.T) {
	records := []domain.DelegationRecord{
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
		rec(roles.Implementation, roles.Review, boolPtr(true)),
	}
	_, err := chain.Replay("t1", records)
	if err == nil {
		t.Fatalf("expected malformed history error")
	}
	if !errors.Is(err, chain.ErrMalformedHistory) {
		t.Fatalf("expected ErrMalformedHistory, got %v", err)
	}
	var me *chain.MalformedHistoryError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedHistoryError, got %T", err)
	}
	if me.TaskID != "t1" || me.Index != 1 {
		t.Fatalf("unexpected error detail: %+v", me)
	}
}

func TestReplayRejectsRejectionToStranger(t *testing.T) {
	records := []domain.DelegationRecord{
		rec(roles.Intake, roles.Architecture, boolPtr(true)),
		rec(roles.Architecture, roles.Research, boolPtr(false)),
	}
	if err := chain.Validate("t1", records); !errors.Is(err, chain.ErrMalformedHistory) {
		t.Fatalf("expected malformed history, got %v", err)
	}
}

func TestReplayRejectsUnknownRole(t *testing.T) {
	records := []domain.DelegationRecord{
		{TaskID: "t1", FromRole: "intake", ToRole: "qa"},
	}
	if err := chain.Validate("t1", records); !errors.Is(err, chain.ErrMalformedHistory) {
		t.Fatalf("expected malformed history, got %v", err)
	}
}
