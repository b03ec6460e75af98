package topology

// Fan-out caps for attack path enumeration.
const (
	maxExternalHops  = 3
	maxDMZHops       = 3
	maxInternalHops  = 3
	maxDCTargets     = 2
	maxDirectTargets = 5
	maxDirectSources = 3
)

// calculateAttackPaths enumerates representative paths, not shortest ones:
// external -> dmz -> internal -> domain controller, plus endpoint -> target
// for the first high-value targets. Missing zones contribute nothing.
func (t *Topology) calculateAttackPaths() {
	external := head(t.SecurityZones[ZoneExternal], maxExternalHops)
	dmz := head(t.SecurityZones[ZoneDMZ], maxDMZHops)
	internal := head(t.SecurityZones[ZoneInternal], maxInternalHops)
	dcs := head(t.DomainControllers, maxDCTargets)

	for _, ext := range external {
		for _, d := range dmz {
			for _, in := range internal {
				for _, dc := range dcs {
					t.AttackPaths = append(t.AttackPaths, []string{ext, d, in, dc})
				}
			}
		}
	}

	endpoints := head(t.nodesWithRole(RoleEndpoint), maxDirectSources)
	for _, target := range head(t.HighValueTargets, maxDirectTargets) {
		for _, ep := range endpoints {
			if ep != target {
				t.AttackPaths = append(t.AttackPaths, []string{ep, target})
			}
		}
	}
}

func (t *Topology) nodesWithRole(role string) []string {
	var out []string
	for _, id := range t.order {
		if t.Nodes[id].Role == role {
			out = append(out, id)
		}
	}
	return out
}

func head(ids []string, n int) []string {
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}
