package dispatch

import "github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"

// FirstHealthy picks the first enabled candidate, in registration order,
// that has not failed its most recent health check. Providers without any
// health data are assumed usable.
type FirstHealthy struct{}

// Select implements Selector.
func (FirstHealthy) Select(candidates []Candidate, _ *models.Message) (string, bool) {
	for _, c := range candidates {
		if c.Health != nil && !c.Health.Healthy {
			continue
		}
		return c.ID, true
	}
	return "", false
}

// LowestCost picks the healthy candidate with the lowest last-observed
// per-message cost. Candidates with no cost history rank after those with
// one; ties resolve to registration order, keeping selection deterministic.
type LowestCost struct{}

// Select implements Selector.
func (LowestCost) Select(candidates []Candidate, _ *models.Message) (string, bool) {
	bestID := ""
	bestCost := 0.0
	bestKnown := false
	for _, c := range candidates {
		if c.Health != nil && !c.Health.Healthy {
			continue
		}
		switch {
		case bestID == "":
			bestID, bestCost, bestKnown = c.ID, c.LastCost, c.CostKnown
		case c.CostKnown && !bestKnown:
			bestID, bestCost, bestKnown = c.ID, c.LastCost, true
		case c.CostKnown && bestKnown && c.LastCost < bestCost:
			bestID, bestCost = c.ID, c.LastCost
		}
	}
	return bestID, bestID != ""
}
