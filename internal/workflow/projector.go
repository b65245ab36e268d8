// Package workflow derives read-only status views from a task and its ordered
// delegation history. Projection is pure: identical inputs always produce the
// identical view, so callers can cache or diff the output.
package workflow

import (
	"fmt"
	"time"

	"relay/internal/domain"
	"relay/internal/roles"
)

// Options tune a projection.
type Options struct {
	// BlockerThreshold is the rejection count above which a role is flagged.
	BlockerThreshold int
	// CompletedUnits/TotalUnits, when both set, override the stage-index
	// completion estimate with a domain-specific unit count.
	CompletedUnits int
	TotalUnits     int
}

// Project computes the transition view for a task at the given instant.
func Project(t domain.Task, records []domain.DelegationRecord, now time.Time, opts Options) (domain.TransitionView, error) {
	view := domain.TransitionView{
		TaskID:   t.ID,
		Status:   t.Status,
		Blockers: []domain.Blocker{},
	}
	if t.CurrentOwner != nil {
		view.CurrentStage = *t.CurrentOwner
	}

	pct, err := completion(t, opts)
	if err != nil {
		return domain.TransitionView{}, err
	}
	view.CompletionPercentage = pct

	since, err := stageStart(t, records)
	if err != nil {
		return domain.TransitionView{}, err
	}
	elapsed := now.Sub(since)
	if elapsed < 0 {
		elapsed = 0
	}
	view.TimeInCurrentStage = elapsed.Truncate(time.Second).String()

	threshold := opts.BlockerThreshold
	if threshold < 1 {
		threshold = 2
	}
	view.Blockers = blockers(records, threshold)
	return view, nil
}

func completion(t domain.Task, opts Options) (float64, error) {
	if t.Status == "completed" {
		return 1, nil
	}
	if opts.TotalUnits > 0 {
		p := float64(opts.CompletedUnits) / float64(opts.TotalUnits)
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		return p, nil
	}
	if t.CurrentOwner == nil {
		return 0, nil
	}
	idx := roles.StageIndex(roles.Role(*t.CurrentOwner))
	if idx < 0 {
		return 0, fmt.Errorf("unknown stage %q", *t.CurrentOwner)
	}
	return float64(idx) / float64(roles.StageCount()), nil
}

// stageStart finds when the current owner took over: the timestamp of the last
// record, since every record transfers ownership to its target. A task with no
// history has been in its (ownerless) state since creation.
func stageStart(t domain.Task, records []domain.DelegationRecord) (time.Time, error) {
	ts := t.CreatedAt
	if len(records) > 0 {
		ts = records[len(records)-1].DelegatedAt
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return parsed, nil
}

func blockers(records []domain.DelegationRecord, threshold int) []domain.Blocker {
	rejections := map[string]int{}
	order := []string{}
	for _, rec := range records {
		if rec.Success == nil || *rec.Success {
			continue
		}
		if _, seen := rejections[rec.ToRole]; !seen {
			order = append(order, rec.ToRole)
		}
		rejections[rec.ToRole]++
	}
	out := []domain.Blocker{}
	for _, role := range order {
		n := rejections[role]
		if n <= threshold {
			continue
		}
		severity := "warning"
		if n >= 2*threshold {
			severity = "critical"
		}
		out = append(out, domain.Blocker{
			Type:        "redelegation",
			Description: fmt.Sprintf("%s has had work sent back %d times", role, n),
			Severity:    severity,
		})
	}
	return out
}
