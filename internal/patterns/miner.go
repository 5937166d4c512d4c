// Package patterns mines recurring failure hotspots from incident history.
package patterns

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// hotspotScore is the deviation from the median incident count, in mean
// absolute deviations, at which a service is flagged as a hotspot.
const hotspotScore = 3

// Miner aggregates stored incidents into per-service failure patterns.
type Miner struct {
	logger *slog.Logger
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger}
}

// Mine returns one pattern per affected service, most prevalent first. Ties
// break on service id so the output is stable.
func (m *Miner) Mine(ctx context.Context, incidents []models.Incident) ([]models.FailurePattern, error) {
	if len(incidents) == 0 {
		return nil, nil
	}

	stats := make(map[string]*serviceAggregate)
	for _, inc := range incidents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, service := range inc.AffectedServices {
			agg := ensureAggregate(stats, service)
			agg.count++
			if i == 0 {
				// Affected services are ordered by first appearance.
				agg.rootCause++
			}
			if inc.ScenarioType != "" {
				agg.scenarios[inc.ScenarioType]++
			}
			if inc.CreatedAt.After(agg.lastSeen) {
				agg.lastSeen = inc.CreatedAt
			}
		}
	}

	counts := make([]float64, 0, len(stats))
	for _, agg := range stats {
		counts = append(counts, float64(agg.count))
	}
	median := percentile(counts, 0.5)
	mad := meanAbsoluteDeviation(counts, median)
	if mad == 0 {
		mad = 1
	}

	patterns := make([]models.FailurePattern, 0, len(stats))
	for service, agg := range stats {
		score := math.Abs(float64(agg.count)-median) / mad
		patterns = append(patterns, models.FailurePattern{
			ID:          "pattern-" + service,
			Service:     service,
			Incidents:   agg.count,
			Prevalence:  float64(agg.count) / float64(len(incidents)),
			Score:       score,
			Hotspot:     float64(agg.count) > median && score >= hotspotScore,
			RootCause:   agg.rootCause,
			Scenarios:   agg.scenarios,
			TopScenario: agg.topScenario(),
			LastSeen:    agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].Service < patterns[j].Service
	})

	m.logger.Debug("patterns mined", slog.Int("incidents", len(incidents)), slog.Int("patterns", len(patterns)))
	return patterns, nil
}

type serviceAggregate struct {
	count     int
	rootCause int
	lastSeen  time.Time
	scenarios map[string]int
}

func ensureAggregate(m map[string]*serviceAggregate, service string) *serviceAggregate {
	if service == "" {
		service = "unknown"
	}
	agg, ok := m[service]
	if !ok {
		agg = &serviceAggregate{scenarios: make(map[string]int)}
		m[service] = agg
	}
	return agg
}

func (agg *serviceAggregate) topScenario() string {
	best, bestCount := "", 0
	for scenario, n := range agg.scenarios {
		if n > bestCount || (n == bestCount && scenario < best) {
			best, bestCount = scenario, n
		}
	}
	return best
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
