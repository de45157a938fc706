package vitals

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	dbpkg "perfinsight/internal/db"
)

// Status grades a metric value against its threshold.
type Status string

const (
	StatusGood             Status = "good"
	StatusNeedsImprovement Status = "needs-improvement"
	StatusPoor             Status = "poor"
	StatusUnknown          Status = "unknown"
)

// Grade returns the status of value under t; a nil t is StatusUnknown.
func Grade(t *dbpkg.Threshold, value float64) Status {
	switch {
	case t == nil:
		return StatusUnknown
	case t.IsGood(value):
		return StatusGood
	case t.IsPoor(value):
		return StatusPoor
	default:
		return StatusNeedsImprovement
	}
}

// specificity ranks a threshold row: pattern+device > pattern > device > global.
func specificity(t *dbpkg.Threshold) int {
	s := 0
	if t.URLPattern != "" {
		s += 2
	}
	if t.DeviceType != "" {
		s++
	}
	return s
}

// MostSpecific picks from rows (all for one metric, ordered by ID) the matching
// threshold with the highest specificity; equal specificity goes to the lowest
// ID. A pattern row only matches when urlPath is given, a device row only when
// deviceType is given. Returns nil when nothing matches.
func MostSpecific(rows []dbpkg.Threshold, urlPath, deviceType string) *dbpkg.Threshold {
	var best *dbpkg.Threshold
	for i := range rows {
		t := &rows[i]
		if t.URLPattern != "" && (urlPath == "" || !likeMatch(t.URLPattern, urlPath)) {
			continue
		}
		if t.DeviceType != "" && t.DeviceType != deviceType {
			continue
		}
		if best == nil || specificity(t) > specificity(best) {
			best = t
		}
	}
	return best
}

// likeMatch implements SQL LIKE: % matches any run, _ exactly one character,
// and everything else literally (case-sensitive, as in PostgreSQL).
func likeMatch(pattern, s string) bool {
	var b strings.Builder
	b.WriteString(`^`)
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// thresholds loads every threshold row for metric ordered by ID.
func (e *Engine) thresholds(ctx context.Context, metric string) ([]dbpkg.Threshold, error) {
	var rows []dbpkg.Threshold
	if err := e.db.WithContext(ctx).Where("metric_name = ?", metric).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	return rows, nil
}

// Threshold returns the most specific threshold for metric at urlPath and
// deviceType (either may be empty), or nil if none is configured.
func (e *Engine) Threshold(ctx context.Context, metric, urlPath, deviceType string) (*dbpkg.Threshold, error) {
	rows, err := e.thresholds(ctx, metric)
	if err != nil {
		return nil, err
	}
	return MostSpecific(rows, urlPath, deviceType), nil
}

// Status grades value for metric using the most specific threshold for
// urlPath and deviceType. Without a matching threshold the status is unknown.
func (e *Engine) Status(ctx context.Context, metric string, value float64, urlPath, deviceType string) (Status, error) {
	t, err := e.Threshold(ctx, metric, urlPath, deviceType)
	if err != nil {
		return StatusUnknown, err
	}
	return Grade(t, value), nil
}
