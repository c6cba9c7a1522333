package snapshot

import (
	"time"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/scoring"
)

// Document is the full state snapshot written after every cycle. It is
// the only artifact downstream readers (API, TUI, operator scripts)
// consume; they never query the store during a cycle.
type Document struct {
	GeneratedAt      time.Time                                `json:"generated_at"`
	CycleNumber      int64                                    `json:"cycle_number"`
	Gates            map[string]gates.Result                  `json:"gates"`
	DomainConfidence map[domain.Domain]domain.ConfidenceState `json:"domain_confidence"`
	Delivery         DeliverySection                          `json:"delivery"`
	Clients          ClientsSection                           `json:"clients"`
	Cash             CashSection                              `json:"cash"`
	Comms            CommsSection                             `json:"comms"`
	Capacity         CapacitySection                          `json:"capacity"`
	Moves            []MoveSummary                            `json:"moves"`
	Inbox            InboxSection                             `json:"inbox"`
	Deltas           Deltas                                   `json:"deltas"`
}

// DeliverySection rolls up active projects.
type DeliverySection struct {
	Confidence domain.ConfidenceState `json:"confidence"`
	Projects   []ProjectSummary       `json:"projects"`
}

// ProjectSummary is one project's derived rollup.
type ProjectSummary struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ClientID      string             `json:"client_id,omitempty"`
	BrandID       string             `json:"brand_id,omitempty"`
	IsInternal    bool               `json:"is_internal,omitempty"`
	HealthColor   domain.HealthColor `json:"health_color"`
	TasksTotal    int                `json:"tasks_total"`
	TasksDone     int                `json:"tasks_done"`
	CompletionPct float64            `json:"completion_pct"`
	SlipRisk      float64            `json:"slip_risk"`
	Deadline      *time.Time         `json:"deadline,omitempty"`
}

// ClientsSection rolls up client health.
type ClientsSection struct {
	Confidence domain.ConfidenceState `json:"confidence"`
	Clients    []ClientSummary        `json:"clients"`
}

// ClientSummary is one client's derived rollup.
type ClientSummary struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Tier          domain.ClientTier  `json:"tier,omitempty"`
	HealthScore   float64            `json:"health_score"`
	HealthColor   domain.HealthColor `json:"health_color"`
	Trend         domain.Trend       `json:"relationship_trend"`
	AROutstanding float64            `json:"ar_outstanding"`
	ARBucket      domain.AgingBucket `json:"ar_bucket"`
	LastContactAt *time.Time         `json:"last_contact_at,omitempty"`
}

// CashSection rolls up receivables.
type CashSection struct {
	Confidence       domain.ConfidenceState `json:"confidence"`
	OutstandingTotal float64                `json:"outstanding_total"`
	Currency         string                 `json:"currency"`
	ARAging          map[string]float64     `json:"ar_aging"`
	Invoices         []InvoiceSummary       `json:"invoices"`
}

// InvoiceSummary is one unpaid invoice.
type InvoiceSummary struct {
	ID          string               `json:"id"`
	ClientID    string               `json:"client_id,omitempty"`
	Number      string               `json:"number"`
	Amount      float64              `json:"amount"`
	Currency    string               `json:"currency"`
	Status      domain.InvoiceStatus `json:"status"`
	DueDate     *time.Time           `json:"due_date,omitempty"`
	AgingBucket domain.AgingBucket   `json:"aging_bucket"`
}

// CommsSection rolls up inbound communication state.
type CommsSection struct {
	Confidence      domain.ConfidenceState `json:"confidence"`
	UnlinkedCount   int                    `json:"unlinked_count"`
	CommitmentsOpen int                    `json:"commitments_open"`
	Threads         []ThreadSummary        `json:"threads"`
}

// ThreadSummary is one recent thread head.
type ThreadSummary struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id,omitempty"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
}

// CapacitySection rolls up lane budgets.
type CapacitySection struct {
	Confidence domain.ConfidenceState `json:"confidence"`
	Lanes      []LaneSummary          `json:"lanes"`
}

// LaneSummary is one capacity lane with its utilization.
type LaneSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	OwnerID        string  `json:"owner_id,omitempty"`
	WeeklyHours    float64 `json:"weekly_hours"`
	CommittedHours float64 `json:"committed_hours"`
	Utilization    float64 `json:"utilization"`
}

// MoveSummary is one pending action awaiting a decision.
type MoveSummary struct {
	ID         string              `json:"id"`
	MoveType   domain.MoveType     `json:"move_type"`
	Domain     domain.Domain       `json:"domain"`
	EntityType domain.EntityType   `json:"entity_type"`
	EntityID   string              `json:"entity_id"`
	Title      string              `json:"title"`
	Rationale  string              `json:"rationale"`
	Risk       domain.RiskLevel    `json:"risk"`
	Approval   domain.ApprovalMode `json:"approval"`
	Score      float64             `json:"score"`
	Horizon    scoring.Horizon     `json:"horizon"`
	ProposedAt time.Time           `json:"proposed_at"`
	ExpiresAt  *time.Time          `json:"expires_at,omitempty"`
}

// InboxSection counts open resolution-queue items.
type InboxSection struct {
	Open       int         `json:"open"`
	ByPriority map[int]int `json:"by_priority"`
}

// Deltas is what changed since the previous snapshot. Empty slices and
// zero counts mean a quiet cycle.
type Deltas struct {
	GateFlips      []GateFlip     `json:"gate_flips"`
	DomainChanges  []DomainChange `json:"domain_changes"`
	NewIssues      int            `json:"new_issues"`
	ResolvedIssues int            `json:"resolved_issues"`
	HealthChanges  []HealthChange `json:"health_changes"`
	ARTransitions  []ARTransition `json:"ar_transitions"`
}

// GateFlip records a gate changing pass state between cycles.
type GateFlip struct {
	Gate string `json:"gate"`
	From bool   `json:"from"`
	To   bool   `json:"to"`
}

// DomainChange records a confidence state change.
type DomainChange struct {
	Domain domain.Domain          `json:"domain"`
	From   domain.ConfidenceState `json:"from"`
	To     domain.ConfidenceState `json:"to"`
}

// HealthChange records a project health color change.
type HealthChange struct {
	ProjectID string             `json:"project_id"`
	Name      string             `json:"name"`
	From      domain.HealthColor `json:"from"`
	To        domain.HealthColor `json:"to"`
}

// ARTransition records a client's worst aging bucket moving.
type ARTransition struct {
	ClientID string             `json:"client_id"`
	From     domain.AgingBucket `json:"from"`
	To       domain.AgingBucket `json:"to"`
}

// computeDeltas compares the new document against the parsed previous
// one. Issue counts come from the builder (store timestamps), not from
// the documents.
func computeDeltas(prev, cur *Document) Deltas {
	var d Deltas
	if prev == nil {
		return d
	}

	for _, name := range gates.GateNames() {
		prevRes, prevOK := prev.Gates[name]
		curRes, curOK := cur.Gates[name]
		if prevOK && curOK && prevRes.Pass != curRes.Pass {
			d.GateFlips = append(d.GateFlips, GateFlip{Gate: name, From: prevRes.Pass, To: curRes.Pass})
		}
	}

	for _, dom := range domain.Domains() {
		from, to := prev.DomainConfidence[dom], cur.DomainConfidence[dom]
		if from != "" && to != "" && from != to {
			d.DomainChanges = append(d.DomainChanges, DomainChange{Domain: dom, From: from, To: to})
		}
	}

	prevProjects := make(map[string]ProjectSummary, len(prev.Delivery.Projects))
	for _, p := range prev.Delivery.Projects {
		prevProjects[p.ID] = p
	}
	for _, p := range cur.Delivery.Projects {
		if old, ok := prevProjects[p.ID]; ok && old.HealthColor != p.HealthColor {
			d.HealthChanges = append(d.HealthChanges, HealthChange{
				ProjectID: p.ID, Name: p.Name, From: old.HealthColor, To: p.HealthColor,
			})
		}
	}

	prevClients := make(map[string]ClientSummary, len(prev.Clients.Clients))
	for _, c := range prev.Clients.Clients {
		prevClients[c.ID] = c
	}
	for _, c := range cur.Clients.Clients {
		if old, ok := prevClients[c.ID]; ok && old.ARBucket != c.ARBucket {
			d.ARTransitions = append(d.ARTransitions, ARTransition{
				ClientID: c.ID, From: old.ARBucket, To: c.ARBucket,
			})
		}
	}

	return d
}
