package topology

// discoverRelationships links every same-domain pair, then every node to the
// owner of each outbound IP. Pairs may repeat; consumers treat the list as a multiset.
func (t *Topology) discoverRelationships() {
	for _, domain := range sortedKeys(t.Domains) {
		members := t.Domains[domain]
		for i, a := range members {
			for _, b := range members[i+1:] {
				t.TrustRelationships = append(t.TrustRelationships, [2]string{a, b})
			}
		}
	}

	owners := t.ipOwners()
	for _, id := range t.order {
		for _, ip := range t.Nodes[id].OutboundConnections.Sorted() {
			if target, ok := owners[ip]; ok && target != id {
				t.TrustRelationships = append(t.TrustRelationships, [2]string{id, target})
			}
		}
	}
}

// ipOwners maps each known IP to the first node, in first-seen order, that reported it.
func (t *Topology) ipOwners() map[string]string {
	owners := make(map[string]string)
	for _, id := range t.order {
		for ip := range t.Nodes[id].IPAddresses {
			if _, taken := owners[ip]; !taken {
				owners[ip] = id
			}
		}
	}
	return owners
}
