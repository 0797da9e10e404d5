package forecast

import (
	"strconv"
	"strings"

	"github.com/ledgerline/cashops/internal/domain"
)

// levelValues extracts an invoice's coordinates for one hierarchy level.
// Empty components collapse to "-" so the key stays well-formed.
func levelValues(inv *domain.Invoice, level []string) []string {
	values := make([]string, len(level))
	for i, dim := range level {
		switch dim {
		case "customer":
			values[i] = strings.TrimSpace(inv.Counterparty)
		case "country":
			values[i] = strings.TrimSpace(inv.Country)
		case "terms_of_payment":
			values[i] = strconv.Itoa(inv.PaymentTermDays)
		}
		if values[i] == "" {
			values[i] = "-"
		}
	}
	return values
}

// segmentGroup is one hierarchy cell with its member samples.
type segmentGroup struct {
	Level   []string
	Values  []string
	Key     string
	Samples []sample
}

// buildGroups partitions the paid samples into every hierarchy cell, most
// specific level first. The global cell is always present, even when empty,
// so application always has a fallback.
func buildGroups(invoices []*domain.Invoice, samples []sample) map[string]*segmentGroup {
	groups := make(map[string]*segmentGroup)
	for _, level := range domain.SegmentLevels {
		if len(level) == 0 {
			key := domain.SegmentKey(nil, nil)
			groups[key] = &segmentGroup{Key: key, Samples: append([]sample(nil), samples...)}
			continue
		}
		for i, inv := range invoices {
			values := levelValues(inv, level)
			key := domain.SegmentKey(level, values)
			g := groups[key]
			if g == nil {
				g = &segmentGroup{Level: level, Values: values, Key: key}
				groups[key] = g
			}
			g.Samples = append(g.Samples, samples[i])
		}
	}
	return groups
}

// summarize turns a group into a persisted Segment row with its weighted
// distribution.
func summarize(snapshotID string, g *segmentGroup) *domain.Segment {
	mean, std := weightedMeanStd(g.Samples)
	return &domain.Segment{
		SnapshotID: snapshotID,
		Key:        g.Key,
		Level:      g.Level,
		Values:     g.Values,
		Count:      len(g.Samples),
		P25:        weightedPercentile(g.Samples, 25),
		P50:        weightedPercentile(g.Samples, 50),
		P75:        weightedPercentile(g.Samples, 75),
		P90:        weightedPercentile(g.Samples, 90),
		Mean:       mean,
		Std:        std,
	}
}

// chooseSegment walks the hierarchy for an open invoice and returns the
// first segment with enough samples, falling back to the global segment.
func chooseSegment(inv *domain.Invoice, byKey map[string]*domain.Segment) *domain.Segment {
	for _, level := range domain.SegmentLevels {
		if len(level) == 0 {
			break
		}
		key := domain.SegmentKey(level, levelValues(inv, level))
		if seg, ok := byKey[key]; ok && seg.Count >= domain.MinSegmentSample {
			return seg
		}
	}
	return byKey[domain.SegmentKey(nil, nil)]
}
