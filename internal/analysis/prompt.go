package analysis

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-remediation/internal/correlation"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

const systemPrompt = `You are an expert Site Reliability Engineer and incident analyst for enterprise infrastructure. Analyze correlated error events from monitoring systems and determine the root cause of the incident.

Consider the timeline and the service dependency chain, identify the initial point of failure, explain the cascading failure pattern, rate your confidence and list every affected service.

Respond with valid JSON only, using this schema:
{
  "root_cause": "Brief description of the root cause",
  "summary": "2-3 sentence executive summary of the incident",
  "reasoning_chain": ["Step 1: observation", "Step 2: correlation", "Step 3: conclusion"],
  "confidence_score": 0.85,
  "affected_services": ["service_a", "service_b"],
  "impact_description": "Description of business/user impact"
}`

// BuildPrompt renders the user message for an incident.
func BuildPrompt(incident models.Incident, serviceContext string) string {
	scenario := incident.ScenarioType
	if scenario == "" || scenario == correlation.ScenarioUnknown {
		scenario = "Unclassified - determine from events"
	}
	if strings.TrimSpace(serviceContext) == "" {
		serviceContext = "No dependency information available."
	}

	var b strings.Builder
	b.WriteString("Analyze the following production incident:\n\n## Event Timeline\n")
	b.WriteString(FormatTimeline(incident.Timeline))
	b.WriteString("\n\n## Service Architecture\n")
	b.WriteString(serviceContext)
	fmt.Fprintf(&b, "\n\n## Incident Classification\nScenario Type: %s\n\n", scenario)
	b.WriteString("## Instructions\n" +
		"1. Identify the ROOT CAUSE, the single initial failure that triggered everything\n" +
		"2. Trace the cascading failure path through the service dependency graph\n" +
		"3. Explain why each downstream service was affected\n" +
		"4. Rate your confidence (0.0-1.0)\n\n" +
		"Respond with JSON only.")
	return b.String()
}

// FormatTimeline renders one line per entry: [15:04:05] [SEVERITY] service: event.
func FormatTimeline(entries []models.TimelineEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] [%s] %s: %s",
			e.Timestamp.Format("15:04:05"), strings.ToUpper(string(e.Severity)), e.SourceService, e.Event))
	}
	return strings.Join(lines, "\n")
}
