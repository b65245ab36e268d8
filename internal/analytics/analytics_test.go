package analytics_test

import (
	"testing"
	"time"

	"relay/internal/analytics"
	"relay/internal/domain"
)

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hours int) string { return base.Add(time.Duration(hours) * time.Hour).Format(time.RFC3339) }

func rec(task, from, to string, delegatedHour int, success *bool) domain.DelegationRecord {
	return domain.DelegationRecord{
		ID: task + from + to + at(delegatedHour), TaskID: task,
		FromRole: from, ToRole: to, DelegatedAt: at(delegatedHour), Success: success,
	}
}

func completed(r domain.DelegationRecord, completedHour int) domain.DelegationRecord {
	ts := at(completedHour)
	r.CompletedAt = &ts
	return r
}

func metricFor(t *testing.T, metrics []domain.RoleMetric, role string) domain.RoleMetric {
	t.Helper()
	for _, m := range metrics {
		if m.Role == role {
			return m
		}
	}
	t.Fatalf("no metric for role %s", role)
	return domain.RoleMetric{}
}

func TestRoleMetricsEmptyInput(t *testing.T) {
	metrics := analytics.RoleMetrics(nil)
	if len(metrics) != 5 {
		t.Fatalf("expected one metric per role, got %d", len(metrics))
	}
	for _, m := range metrics {
		if m.TasksReceived != 0 || m.SuccessRate != 0 || m.QualityScore != 0 || m.WorkloadShare != 0 {
			t.Fatalf("empty input should yield zero values, got %+v", m)
		}
	}
}

func TestEfficiencyPenalizesRejections(t *testing.T) {
	clean := []domain.DelegationRecord{
		rec("t1", "intake", "architecture", 0, boolPtr(true)),
		rec("t1", "architecture", "intake", 1, boolPtr(true)),
	}
	m := metricFor(t, analytics.RoleMetrics(clean), "architecture")
	if m.SuccessRate != 1 || m.DelegationEfficiency != 100 {
		t.Fatalf("clean chain: %+v", m)
	}

	// Each extra rejection received must not raise efficiency.
	prev := m.DelegationEfficiency
	records := clean
	for i := 0; i < 3; i++ {
		records = append(records,
			rec("t1", "intake", "architecture", 2+2*i, boolPtr(true)),
			rec("t1", "architecture", "intake", 3+2*i, boolPtr(false)),
		)
		// Rejections land on intake; measure intake's efficiency.
		eff := metricFor(t, analytics.RoleMetrics(records), "intake").DelegationEfficiency
		if eff > prev && i > 0 {
			t.Fatalf("efficiency rose with more rejections: %f -> %f", prev, eff)
		}
		prev = eff
	}
}

func TestSpeedDecaysQuality(t *testing.T) {
	fast := []domain.DelegationRecord{
		completed(rec("t1", "intake", "architecture", 0, boolPtr(true)), 6),
	}
	slow := []domain.DelegationRecord{
		completed(rec("t2", "intake", "architecture", 0, boolPtr(true)), 48),
	}
	fastQ := metricFor(t, analytics.RoleMetrics(fast), "architecture").QualityScore
	slowQ := metricFor(t, analytics.RoleMetrics(slow), "architecture").QualityScore
	if fastQ <= slowQ {
		t.Fatalf("faster completion should score higher: %f vs %f", fastQ, slowQ)
	}
	// 48h average saturates the speed penalty but never goes negative.
	if slowQ < 0 {
		t.Fatalf("quality must not go negative: %f", slowQ)
	}
}

func TestCommonPathsOrderAndTies(t *testing.T) {
	records := []domain.DelegationRecord{
		rec("t1", "intake", "research", 0, boolPtr(true)),
		rec("t1", "research", "architecture", 1, boolPtr(true)),
		rec("t2", "intake", "architecture", 2, boolPtr(true)),
		rec("t3", "intake", "research", 3, boolPtr(true)),
	}
	paths := analytics.CommonPaths(records, 10)
	if len(paths) != 3 {
		t.Fatalf("got %d paths", len(paths))
	}
	if paths[0].FromRole != "intake" || paths[0].ToRole != "research" || paths[0].Count != 2 {
		t.Fatalf("most common first: %+v", paths[0])
	}
	// Tied single-count paths stay in first-seen order.
	if paths[1].ToRole != "architecture" || paths[1].FromRole != "research" {
		t.Fatalf("tie order broken: %+v", paths[1])
	}

	if got := analytics.CommonPaths(records, 2); len(got) != 2 {
		t.Fatalf("topK not applied: %d", len(got))
	}
}

func TestHotspotReasonsDeduplicated(t *testing.T) {
	r1 := rec("t1", "architecture", "intake", 1, boolPtr(false))
	r1.RejectionReason = strPtr("scope unclear")
	r2 := rec("t2", "architecture", "intake", 2, boolPtr(false))
	r2.RejectionReason = strPtr("missing context")
	r3 := rec("t3", "architecture", "intake", 3, boolPtr(false))
	r3.RejectionReason = strPtr("scope unclear")

	spots := analytics.Hotspots([]domain.DelegationRecord{r1, r2, r3})
	if len(spots) != 1 {
		t.Fatalf("expected one hotspot, got %+v", spots)
	}
	s := spots[0]
	if s.Count != 3 {
		t.Fatalf("count: %d", s.Count)
	}
	if len(s.Reasons) != 2 || s.Reasons[0] != "scope unclear" || s.Reasons[1] != "missing context" {
		t.Fatalf("reasons should be distinct in insertion order: %v", s.Reasons)
	}
}

func TestBottleneckDetection(t *testing.T) {
	records := []domain.DelegationRecord{
		// research turns work around in an hour, four samples.
		completed(rec("t1", "intake", "research", 0, boolPtr(true)), 1),
		completed(rec("t2", "intake", "research", 0, boolPtr(true)), 1),
		completed(rec("t3", "intake", "research", 0, boolPtr(true)), 1),
		completed(rec("t4", "intake", "research", 0, boolPtr(true)), 1),
		// implementation sits on its one task for two days.
		completed(rec("t5", "architecture", "implementation", 0, boolPtr(true)), 48),
	}
	flagged := analytics.Bottlenecks(records, 1.5, 5)
	if len(flagged) != 1 {
		t.Fatalf("expected one bottleneck, got %+v", flagged)
	}
	if flagged[0].Role != "implementation" || flagged[0].Samples != 1 {
		t.Fatalf("unexpected bottleneck %+v", flagged[0])
	}
}

func TestBottlenecksEmptyWithoutSamples(t *testing.T) {
	records := []domain.DelegationRecord{
		rec("t1", "intake", "research", 0, boolPtr(true)), // still open
	}
	if got := analytics.Bottlenecks(records, 1.5, 5); len(got) != 0 {
		t.Fatalf("open records carry no hold time: %+v", got)
	}
}

func TestAggregateExcludesMalformedChains(t *testing.T) {
	good := []domain.DelegationRecord{
		rec("ok", "intake", "architecture", 0, boolPtr(true)),
		rec("ok", "architecture", "intake", 1, boolPtr(true)),
	}
	// Second record's sender never received the work.
	bad := []domain.DelegationRecord{
		rec("broken", "intake", "architecture", 0, boolPtr(true)),
		rec("broken", "research", "implementation", 1, boolPtr(true)),
	}
	out := analytics.Aggregate(append(good, bad...), analytics.Options{
		TopPaths: 10, TopBottlenecks: 5, BottleneckMultiplier: 1.5, ValidateChains: true,
	})
	if out.ExcludedTasks != 1 {
		t.Fatalf("excluded: %d", out.ExcludedTasks)
	}
	for _, p := range out.CommonPaths {
		if p.FromRole == "research" {
			t.Fatalf("malformed chain leaked into paths: %+v", out.CommonPaths)
		}
	}
}

func TestAggregateEmptySet(t *testing.T) {
	out := analytics.Aggregate(nil, analytics.Options{TopPaths: 10, TopBottlenecks: 5, BottleneckMultiplier: 1.5, ValidateChains: true})
	if out.ExcludedTasks != 0 || len(out.CommonPaths) != 0 || len(out.Hotspots) != 0 || len(out.Bottlenecks) != 0 {
		t.Fatalf("empty input should aggregate to zero values: %+v", out)
	}
}
