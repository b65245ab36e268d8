package roles_test

import (
	"testing"

	"relay/internal/roles"
)

func TestTransitionGraph(t *testing.T) {
	legal := [][2]roles.Role{
		{roles.Intake, roles.Research},
		{roles.Intake, roles.Architecture},
		{roles.Research, roles.Architecture},
		{roles.Architecture, roles.Implementation},
		{roles.Implementation, roles.Review},
		{roles.Review, roles.Architecture},
	}
	for _, edge := range legal {
		if !roles.IsLegalTransition(edge[0], edge[1]) {
			t.Errorf("expected %s -> %s to be legal", edge[0], edge[1])
		}
	}
	illegal := [][2]roles.Role{
		{roles.Review, roles.Intake},
		{roles.Implementation, roles.Intake},
		{roles.Architecture, roles.Review},
		{roles.Research, roles.Implementation},
		{roles.Intake, roles.Review},
		{roles.Intake, roles.Intake},
	}
	for _, edge := range illegal {
		if roles.IsLegalTransition(edge[0], edge[1]) {
			t.Errorf("expected %s -> %s to be illegal", edge[0], edge[1])
		}
	}
}

func TestNextRoleDecisionTable(t *testing.T) {
	cases := []struct {
		current roles.Role
		ctx     roles.Context
		want    roles.Role
	}{
		{roles.Intake, roles.Context{}, roles.Architecture},
		{roles.Intake, roles.Context{NeedsResearch: true}, roles.Research},
		{roles.Research, roles.Context{}, roles.Architecture},
		{roles.Architecture, roles.Context{}, roles.Implementation},
		{roles.Implementation, roles.Context{}, roles.Review},
		{roles.Review, roles.Context{ReviewRejected: true}, roles.Architecture},
	}
	for _, c := range cases {
		got, err := roles.NextRole(c.current, c.ctx)
		if err != nil {
			t.Fatalf("NextRole(%s): %v", c.current, err)
		}
		if got != c.want {
			t.Errorf("NextRole(%s, %+v) = %s, want %s", c.current, c.ctx, got, c.want)
		}
	}
	if _, err := roles.NextRole(roles.Review, roles.Context{}); err == nil {
		t.Errorf("expected error for review with no rejection flag")
	}
	if _, err := roles.NextRole(roles.Role("qa"), roles.Context{}); err == nil {
		t.Errorf("expected error for unknown role")
	}
}

func TestMetadataCoversAllRoles(t *testing.T) {
	all := roles.All()
	if len(all) != roles.StageCount() {
		t.Fatalf("All() returned %d roles, want %d", len(all), roles.StageCount())
	}
	for i, r := range all {
		if !roles.Valid(r) {
			t.Errorf("role %s not valid", r)
		}
		if roles.StageIndex(r) != i {
			t.Errorf("StageIndex(%s) = %d, want %d", r, roles.StageIndex(r), i)
		}
		info := roles.Describe(r)
		if info.Label == "" || info.Description == "" {
			t.Errorf("role %s missing metadata", r)
		}
	}
	if roles.Valid(roles.Role("qa")) {
		t.Errorf("qa should not be a valid role")
	}
	if roles.StageIndex(roles.Role("qa")) != -1 {
		t.Errorf("unknown role should have index -1")
	}
}
