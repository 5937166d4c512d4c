package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func TestMinerFlagsHotspots(t *testing.T) {
	miner := NewMiner(nil)

	now := time.Now()
	followers := []string{"eso", "database", "auth_service", "api_gateway", "user_service", "cert_manager"}
	incidents := make([]models.Incident, 0, len(followers))
	for i, svc := range followers {
		scenario := "vault_auth_failure"
		if i%3 == 0 {
			scenario = "database_jwt_missing"
		}
		incidents = append(incidents, models.Incident{
			ID:               "inc-" + svc,
			AffectedServices: []string{"vault", svc},
			ScenarioType:     scenario,
			CreatedAt:        now.Add(time.Duration(i) * time.Minute),
		})
	}

	patterns, err := miner.Mine(context.Background(), incidents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 7 {
		t.Fatalf("expected 7 patterns, got %d", len(patterns))
	}

	top := patterns[0]
	if top.Service != "vault" || top.Incidents != 6 || top.Prevalence != 1 {
		t.Fatalf("unexpected top pattern: %+v", top)
	}
	if !top.Hotspot || top.RootCause != 6 {
		t.Fatalf("vault should be a root-cause hotspot: %+v", top)
	}
	if top.TopScenario != "vault_auth_failure" || top.Scenarios["database_jwt_missing"] != 2 {
		t.Fatalf("unexpected scenario breakdown: %+v", top.Scenarios)
	}
	if !top.LastSeen.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected last seen: %v", top.LastSeen)
	}

	if patterns[1].Service != "api_gateway" || patterns[1].Hotspot || patterns[1].RootCause != 0 {
		t.Fatalf("followers must sort by id and not be hotspots: %+v", patterns[1])
	}
}

func TestMinerEmptyHistory(t *testing.T) {
	patterns, err := NewMiner(nil).Mine(context.Background(), nil)
	if err != nil || patterns != nil {
		t.Fatalf("expected no patterns, got %v %v", patterns, err)
	}
}

func TestMinerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMiner(nil).Mine(ctx, []models.Incident{{ID: "a", AffectedServices: []string{"vault"}}})
	if err == nil {
		t.Fatalf("expected context error")
	}
}
