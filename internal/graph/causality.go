package graph

// OriginCandidates returns the affected services that none of the other
// affected services feed into, in input order. When a failure cascades along
// dependency edges these are the most likely points of origin. If every
// service has an affected provider (a cycle), the input order is kept and the
// first service is returned alone.
func (g *Graph) OriginCandidates(affected []string) []string {
	if len(affected) == 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	inSet := make(map[string]struct{}, len(affected))
	for _, svc := range affected {
		inSet[svc] = struct{}{}
	}

	candidates := make([]string, 0, len(affected))
	for _, svc := range affected {
		hasAffectedProvider := false
		for _, provider := range g.upstream[svc] {
			if _, ok := inSet[provider]; ok && provider != svc {
				hasAffectedProvider = true
				break
			}
		}
		if !hasAffectedProvider {
			candidates = append(candidates, svc)
		}
	}
	if len(candidates) == 0 {
		return []string{affected[0]}
	}
	return candidates
}
