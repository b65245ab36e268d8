// Package analytics computes derived metrics over delegation histories. All
// functions are pure: they fold an input collection into aggregates without
// touching stored state.
package analytics

import (
	"sort"
	"time"

	"relay/internal/chain"
	"relay/internal/domain"
	"relay/internal/roles"
)

// Options tune the cross-task aggregation.
type Options struct {
	TopPaths             int
	TopBottlenecks       int
	BottleneckMultiplier float64
	// ValidateChains enables per-task history validation with exclusion of
	// malformed chains. Callers passing deliberately partial chains (role or
	// date filtered subsets) must leave it off.
	ValidateChains bool
}

type roleAccum struct {
	received       int
	successful     int
	rejections     int
	tasksReceived  map[string]struct{}
	tasksCompleted map[string]struct{}
	holdTotal      time.Duration
	holdSamples    int
}

func newRoleAccum() *roleAccum {
	return &roleAccum{
		tasksReceived:  map[string]struct{}{},
		tasksCompleted: map[string]struct{}{},
	}
}

func accumulate(records []domain.DelegationRecord) map[string]*roleAccum {
	acc := map[string]*roleAccum{}
	get := func(role string) *roleAccum {
		a, ok := acc[role]
		if !ok {
			a = newRoleAccum()
			acc[role] = a
		}
		return a
	}
	for _, rec := range records {
		a := get(rec.ToRole)
		a.received++
		a.tasksReceived[rec.TaskID] = struct{}{}
		if rec.Success != nil && *rec.Success {
			a.successful++
		}
		if rec.Success != nil && !*rec.Success {
			a.rejections++
		}
		if rec.CompletedAt != nil {
			a.tasksCompleted[rec.TaskID] = struct{}{}
			if d, ok := holdTime(rec); ok {
				a.holdTotal += d
				a.holdSamples++
			}
		}
	}
	return acc
}

func holdTime(rec domain.DelegationRecord) (time.Duration, bool) {
	if rec.CompletedAt == nil {
		return 0, false
	}
	start, err := time.Parse(time.RFC3339, rec.DelegatedAt)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339, *rec.CompletedAt)
	if err != nil {
		return 0, false
	}
	if end.Before(start) {
		return 0, false
	}
	return end.Sub(start), true
}

// RoleMetrics computes the per-role performance aggregates. Roles with no
// received delegations report zero values.
func RoleMetrics(records []domain.DelegationRecord) []domain.RoleMetric {
	acc := accumulate(records)
	total := len(records)
	out := make([]domain.RoleMetric, 0, roles.StageCount())
	for _, role := range roles.All() {
		a := acc[string(role)]
		if a == nil {
			a = newRoleAccum()
		}
		m := domain.RoleMetric{
			Role:                  string(role),
			TasksReceived:         len(a.tasksReceived),
			TasksCompleted:        len(a.tasksCompleted),
			AverageCompletionTime: "0s",
		}
		var avgHold time.Duration
		if a.holdSamples > 0 {
			avgHold = a.holdTotal / time.Duration(a.holdSamples)
			m.AverageCompletionTime = avgHold.Truncate(time.Second).String()
		}
		if a.received > 0 {
			successRate := float64(a.successful) / float64(a.received)
			redelegationRate := float64(a.rejections) / float64(a.received)
			m.SuccessRate = successRate
			m.DelegationEfficiency = efficiency(successRate, redelegationRate)
			m.QualityScore = qualityScore(successRate, m.DelegationEfficiency, avgHold, a.holdSamples > 0)
		}
		if total > 0 {
			m.WorkloadShare = float64(a.received) / float64(total)
		}
		out = append(out, m)
	}
	return out
}

// efficiency applies a fixed 20-point penalty per unit of redelegation rate.
func efficiency(successRate, redelegationRate float64) float64 {
	v := successRate*100 - 20*redelegationRate
	if v < 0 {
		return 0
	}
	return v
}

// speedScore decays linearly against a 24-hour completion baseline.
func speedScore(avgHold time.Duration) float64 {
	hours := avgHold.Hours()
	v := 100 - (hours/24)*100
	if v < 0 {
		return 0
	}
	return v
}

func qualityScore(successRate, eff float64, avgHold time.Duration, hasSamples bool) float64 {
	speed := 100.0
	if hasSamples {
		speed = speedScore(avgHold)
	}
	return 0.4*(successRate*100) + 0.3*speed + 0.3*eff
}

// CommonPaths counts (from, to) pairs, most frequent first, ties kept in
// first-seen order.
func CommonPaths(records []domain.DelegationRecord, topK int) []domain.PathCount {
	counts := map[[2]string]int{}
	var order [][2]string
	for _, rec := range records {
		key := [2]string{rec.FromRole, rec.ToRole}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}
	out := make([]domain.PathCount, 0, len(order))
	for _, key := range order {
		out = append(out, domain.PathCount{FromRole: key[0], ToRole: key[1], Count: counts[key]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Hotspots groups rejection records by (from, to) with their distinct reasons
// in insertion order.
func Hotspots(records []domain.DelegationRecord) []domain.Hotspot {
	type spot struct {
		count   int
		reasons []string
		seen    map[string]struct{}
	}
	spots := map[[2]string]*spot{}
	var order [][2]string
	for _, rec := range records {
		if rec.Success == nil || *rec.Success {
			continue
		}
		key := [2]string{rec.FromRole, rec.ToRole}
		s, ok := spots[key]
		if !ok {
			s = &spot{seen: map[string]struct{}{}}
			spots[key] = s
			order = append(order, key)
		}
		s.count++
		if rec.RejectionReason != nil {
			if _, dup := s.seen[*rec.RejectionReason]; !dup {
				s.seen[*rec.RejectionReason] = struct{}{}
				s.reasons = append(s.reasons, *rec.RejectionReason)
			}
		}
	}
	out := make([]domain.Hotspot, 0, len(order))
	for _, key := range order {
		s := spots[key]
		out = append(out, domain.Hotspot{FromRole: key[0], ToRole: key[1], Count: s.count, Reasons: s.reasons})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Bottlenecks flags roles whose average hold time exceeds the global average
// scaled by the multiplier, slowest first, top-N returned.
func Bottlenecks(records []domain.DelegationRecord, multiplier float64, topN int) []domain.Bottleneck {
	if multiplier <= 0 {
		multiplier = 1.5
	}
	acc := accumulate(records)
	var globalTotal time.Duration
	globalSamples := 0
	for _, a := range acc {
		globalTotal += a.holdTotal
		globalSamples += a.holdSamples
	}
	if globalSamples == 0 {
		return []domain.Bottleneck{}
	}
	globalAvg := globalTotal / time.Duration(globalSamples)
	threshold := time.Duration(float64(globalAvg) * multiplier)

	type entry struct {
		role string
		avg  time.Duration
		n    int
	}
	var flagged []entry
	for role, a := range acc {
		if a.holdSamples == 0 {
			continue
		}
		avg := a.holdTotal / time.Duration(a.holdSamples)
		if avg > threshold {
			flagged = append(flagged, entry{role: role, avg: avg, n: a.holdSamples})
		}
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].avg != flagged[j].avg {
			return flagged[i].avg > flagged[j].avg
		}
		return flagged[i].role < flagged[j].role
	})
	if topN > 0 && len(flagged) > topN {
		flagged = flagged[:topN]
	}
	out := make([]domain.Bottleneck, 0, len(flagged))
	for _, f := range flagged {
		out = append(out, domain.Bottleneck{
			Role:            f.role,
			AverageHoldTime: f.avg.Truncate(time.Second).String(),
			Threshold:       threshold.Truncate(time.Second).String(),
			Samples:         f.n,
		})
	}
	return out
}

// Aggregate bundles the cross-task views. With ValidateChains on, tasks whose
// histories fail replay are dropped from every aggregate and counted.
func Aggregate(records []domain.DelegationRecord, opts Options) domain.DelegationAnalytics {
	usable := records
	excluded := 0
	if opts.ValidateChains {
		usable = usable[:0:0]
		byTask := map[string][]domain.DelegationRecord{}
		var taskOrder []string
		for _, rec := range records {
			if _, seen := byTask[rec.TaskID]; !seen {
				taskOrder = append(taskOrder, rec.TaskID)
			}
			byTask[rec.TaskID] = append(byTask[rec.TaskID], rec)
		}
		for _, id := range taskOrder {
			group := byTask[id]
			if err := chain.Validate(id, group); err != nil {
				excluded++
				continue
			}
			usable = append(usable, group...)
		}
	}
	return domain.DelegationAnalytics{
		CommonPaths:   CommonPaths(usable, opts.TopPaths),
		Hotspots:      Hotspots(usable),
		Bottlenecks:   Bottlenecks(usable, opts.BottleneckMultiplier, opts.TopBottlenecks),
		ExcludedTasks: excluded,
	}
}
