package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
)

func gateMap(pass map[string]bool) map[string]gates.Result {
	out := make(map[string]gates.Result, len(pass))
	for name, p := range pass {
		out[name] = gates.Result{Pass: p}
	}
	return out
}

func TestComputeDeltasNilPrevious(t *testing.T) {
	cur := testDoc(1)
	cur.Gates = gateMap(map[string]bool{gates.GateDataIntegrity: false})
	assert.Equal(t, Deltas{}, computeDeltas(nil, cur))
}

func TestComputeDeltasIdenticalDocs(t *testing.T) {
	doc := testDoc(2)
	doc.Gates = gateMap(map[string]bool{gates.GateDataIntegrity: true, gates.GateClientCoverage: false})
	doc.DomainConfidence = map[domain.Domain]domain.ConfidenceState{
		domain.DomainCash: domain.ConfidenceReliable,
	}
	doc.Delivery.Projects = []ProjectSummary{{ID: "p1", Name: "Site", HealthColor: domain.HealthGreen}}
	doc.Clients.Clients = []ClientSummary{{ID: "c1", ARBucket: domain.AgingCurrent}}

	assert.Equal(t, Deltas{}, computeDeltas(doc, doc))
}

func TestComputeDeltasGateFlips(t *testing.T) {
	prev := testDoc(1)
	prev.Gates = gateMap(map[string]bool{
		gates.GateDataIntegrity:  true,
		gates.GateClientCoverage: false,
	})
	cur := testDoc(2)
	cur.Gates = gateMap(map[string]bool{
		gates.GateDataIntegrity:  false,
		gates.GateClientCoverage: true,
	})

	d := computeDeltas(prev, cur)
	assert.ElementsMatch(t, []GateFlip{
		{Gate: gates.GateDataIntegrity, From: true, To: false},
		{Gate: gates.GateClientCoverage, From: false, To: true},
	}, d.GateFlips)
}

func TestComputeDeltasGateAppearing(t *testing.T) {
	// A gate present only on one side is not a flip.
	prev := testDoc(1)
	prev.Gates = gateMap(map[string]bool{gates.GateDataIntegrity: true})
	cur := testDoc(2)
	cur.Gates = gateMap(map[string]bool{
		gates.GateDataIntegrity:  true,
		gates.GateClientCoverage: false,
	})
	assert.Empty(t, computeDeltas(prev, cur).GateFlips)
}

func TestComputeDeltasDomainChanges(t *testing.T) {
	prev := testDoc(1)
	prev.DomainConfidence = map[domain.Domain]domain.ConfidenceState{
		domain.DomainCash:     domain.ConfidenceBlocked,
		domain.DomainDelivery: domain.ConfidenceReliable,
	}
	cur := testDoc(2)
	cur.DomainConfidence = map[domain.Domain]domain.ConfidenceState{
		domain.DomainCash:     domain.ConfidenceReliable,
		domain.DomainDelivery: domain.ConfidenceReliable,
	}

	d := computeDeltas(prev, cur)
	assert.Equal(t, []DomainChange{
		{Domain: domain.DomainCash, From: domain.ConfidenceBlocked, To: domain.ConfidenceReliable},
	}, d.DomainChanges)
}

func TestComputeDeltasHealthChanges(t *testing.T) {
	prev := testDoc(1)
	prev.Delivery.Projects = []ProjectSummary{
		{ID: "p1", Name: "Site", HealthColor: domain.HealthGreen},
		{ID: "p2", Name: "App", HealthColor: domain.HealthYellow},
	}
	cur := testDoc(2)
	cur.Delivery.Projects = []ProjectSummary{
		{ID: "p1", Name: "Site", HealthColor: domain.HealthRed},
		{ID: "p2", Name: "App", HealthColor: domain.HealthYellow},
		{ID: "p3", Name: "New", HealthColor: domain.HealthRed},
	}

	d := computeDeltas(prev, cur)
	// New projects produce no change entry.
	assert.Equal(t, []HealthChange{
		{ProjectID: "p1", Name: "Site", From: domain.HealthGreen, To: domain.HealthRed},
	}, d.HealthChanges)
}

func TestComputeDeltasARTransitions(t *testing.T) {
	prev := testDoc(1)
	prev.Clients.Clients = []ClientSummary{
		{ID: "c1", ARBucket: domain.Aging1to30},
		{ID: "c2", ARBucket: domain.AgingCurrent},
	}
	cur := testDoc(2)
	cur.Clients.Clients = []ClientSummary{
		{ID: "c1", ARBucket: domain.Aging31to60},
		{ID: "c2", ARBucket: domain.AgingCurrent},
	}

	d := computeDeltas(prev, cur)
	assert.Equal(t, []ARTransition{
		{ClientID: "c1", From: domain.Aging1to30, To: domain.Aging31to60},
	}, d.ARTransitions)
}
