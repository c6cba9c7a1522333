// Package domain defines the relational model of the agency operating
// system: the entities collected from external sources, the linkage and
// health fields derived from them, and the enumerations shared by the
// collectors, normalizer, gates, queue, and moves engine.
//
// Entities live in a single SQLite file. External rows carry IDs of the
// form {source_prefix}_{source_id}; internally created rows use UUIDs.
// Derived fields are owned by the normalizer and are never rewritten by
// collectors after the initial insert.
package domain

import (
	"fmt"
	"time"
)

// Source identifies an upstream system a row was collected from.
type Source string

const (
	SourceGTasks   Source = "gtasks"
	SourceCalendar Source = "calendar"
	SourceGmail    Source = "gmail"
	SourceAsana    Source = "asana"
	SourceXero     Source = "xero"
	SourceSeed     Source = "seed"
)

// Prefix returns the external-ID prefix for the source ("gtask_" etc.).
// Seed rows have no prefix; they use UUIDs.
func (s Source) Prefix() string {
	switch s {
	case SourceGTasks:
		return "gtask_"
	case SourceCalendar:
		return "calendar_"
	case SourceGmail:
		return "gmail_"
	case SourceAsana:
		return "asana_"
	case SourceXero:
		return "xero_"
	default:
		return ""
	}
}

// ExternalID builds the canonical row ID for an upstream record.
func (s Source) ExternalID(sourceID string) string {
	return s.Prefix() + sourceID
}

// ClientTier buckets clients by strategic value.
type ClientTier string

const (
	TierA ClientTier = "A"
	TierB ClientTier = "B"
	TierC ClientTier = "C"
)

// ClientStatus is the lifecycle state of a client relationship.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientPaused   ClientStatus = "paused"
	ClientArchived ClientStatus = "archived"
)

// Trend describes the direction of a client relationship between cycles.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendSteady    Trend = "steady"
	TrendDeclining Trend = "declining"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectOnHold   ProjectStatus = "on_hold"
	ProjectDone     ProjectStatus = "done"
	ProjectArchived ProjectStatus = "archived"
)

// HealthColor is the traffic-light rollup used for projects and clients.
type HealthColor string

const (
	HealthGreen  HealthColor = "GREEN"
	HealthYellow HealthColor = "YELLOW"
	HealthRed    HealthColor = "RED"
)

// TaskStatus is the normalized execution state of a task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

// Terminal reports whether the status ends a task's life.
func (s TaskStatus) Terminal() bool { return s == TaskDone }

// LinkStatus describes how far an entity resolved along the
// project -> brand -> client chain.
type LinkStatus string

const (
	LinkLinked   LinkStatus = "linked"
	LinkPartial  LinkStatus = "partial"  // project exists but the chain breaks
	LinkUnlinked LinkStatus = "unlinked" // no resolution at all
	LinkNA       LinkStatus = "n/a"      // linkage does not apply (internal work)
)

// BodyMethod records which extraction path produced a communication body.
type BodyMethod string

const (
	BodyHTMLStripped    BodyMethod = "html_stripped"
	BodyPlain           BodyMethod = "plain"
	BodySnippetFallback BodyMethod = "snippet_fallback"
)

// CommitmentKind separates promises made from requests received.
type CommitmentKind string

const (
	CommitmentPromise CommitmentKind = "promise"
	CommitmentRequest CommitmentKind = "request"
)

// CommitmentStatus is the lifecycle of an extracted commitment.
type CommitmentStatus string

const (
	CommitmentOpen      CommitmentStatus = "open"
	CommitmentFulfilled CommitmentStatus = "fulfilled"
	CommitmentBroken    CommitmentStatus = "broken"
	CommitmentExpired   CommitmentStatus = "expired"
)

// InvoiceStatus follows the accounting system's lifecycle.
type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "draft"
	InvoiceSent   InvoiceStatus = "sent"
	InvoicePaid   InvoiceStatus = "paid"
	InvoiceVoided InvoiceStatus = "voided"
)

// Unpaid reports whether the invoice still counts toward AR.
func (s InvoiceStatus) Unpaid() bool { return s == InvoiceSent || s == InvoiceDraft }

// AgingBucket buckets receivables by days past due.
type AgingBucket string

const (
	AgingCurrent AgingBucket = "current"
	Aging1to30   AgingBucket = "1-30"
	Aging31to60  AgingBucket = "31-60"
	Aging61to90  AgingBucket = "61-90"
	Aging90Plus  AgingBucket = "90+"
)

// Severity orders buckets; higher is worse.
func (b AgingBucket) Severity() int {
	switch b {
	case Aging1to30:
		return 1
	case Aging31to60:
		return 2
	case Aging61to90:
		return 3
	case Aging90Plus:
		return 4
	default:
		return 0
	}
}

// BucketForAge maps days past due onto an aging bucket.
func BucketForAge(daysPastDue int) AgingBucket {
	switch {
	case daysPastDue <= 0:
		return AgingCurrent
	case daysPastDue <= 30:
		return Aging1to30
	case daysPastDue <= 60:
		return Aging31to60
	case daysPastDue <= 90:
		return Aging61to90
	default:
		return Aging90Plus
	}
}

// Domain is one of the five operating areas the system reasons about.
type Domain string

const (
	DomainDelivery Domain = "delivery"
	DomainClients  Domain = "clients"
	DomainCash     Domain = "cash"
	DomainComms    Domain = "comms"
	DomainCapacity Domain = "capacity"
)

// Domains lists all operating areas in snapshot order.
func Domains() []Domain {
	return []Domain{DomainDelivery, DomainClients, DomainCash, DomainComms, DomainCapacity}
}

// ConfidenceState is the gate-derived trust level for a domain.
type ConfidenceState string

const (
	ConfidenceBlocked  ConfidenceState = "blocked"
	ConfidenceDegraded ConfidenceState = "degraded"
	ConfidenceReliable ConfidenceState = "reliable"
)

// Mode is the operator hat worn when ranking work.
type Mode string

const (
	ModeOpsHead   Mode = "ops_head"
	ModeCoFounder Mode = "co_founder"
	ModeArtist    Mode = "artist"
)

// ValidMode reports whether m is a known operating mode.
func ValidMode(m Mode) bool {
	return m == ModeOpsHead || m == ModeCoFounder || m == ModeArtist
}

// Client is an organization the agency bills. Created by the Xero
// collector from contacts or by manual seed. Health fields are derived.
type Client struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Tier          ClientTier   `json:"tier"`
	Status        ClientStatus `json:"status"`
	ContactEmail  string       `json:"contact_email,omitempty"`
	ContactDomain string       `json:"contact_domain,omitempty"`
	Notes         string       `json:"notes,omitempty"`

	// Derived by the normalizer.
	HealthScore   float64     `json:"health_score"`
	HealthColor   HealthColor `json:"health_color"`
	Trend         Trend       `json:"relationship_trend"`
	AROutstanding float64     `json:"ar_outstanding"`
	ARBucket      AgingBucket `json:"ar_bucket"`
	LastContactAt *time.Time  `json:"last_contact_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Brand is a client's sub-identity that projects hang off.
type Brand struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project is a unit of delivery. External projects come from Asana;
// internal projects carry IsInternal and never resolve a client.
type Project struct {
	ID         string        `json:"id"`
	BrandID    string        `json:"brand_id,omitempty"`
	ClientID   string        `json:"client_id,omitempty"`
	Name       string        `json:"name"`
	Status     ProjectStatus `json:"status"`
	IsInternal bool          `json:"is_internal"`
	Deadline   *time.Time    `json:"deadline,omitempty"`
	Source     Source        `json:"source"`
	SourceID   string        `json:"source_id,omitempty"`

	// Derived rollups.
	HealthColor   HealthColor `json:"health_color"`
	TasksTotal    int         `json:"tasks_total"`
	TasksDone     int         `json:"tasks_done"`
	CompletionPct float64     `json:"completion_pct"`
	SlipRisk      float64     `json:"slip_risk"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a unit of work from any task source.
type Task struct {
	ID              string     `json:"id"`
	Source          Source     `json:"source"`
	SourceID        string     `json:"source_id"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes,omitempty"`
	Status          TaskStatus `json:"status"`
	Priority        int        `json:"priority"` // 0..100 sort key
	Urgency         float64    `json:"urgency"`  // 0..1, scoring input
	Impact          float64    `json:"impact"`   // 0..1, scoring input
	DueDate         *time.Time `json:"due_date,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	ProjectID       string     `json:"project_id,omitempty"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	AssigneeRaw     string     `json:"assignee_raw,omitempty"`
	BlockedSince    *time.Time `json:"blocked_since,omitempty"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`

	// Derived by the normalizer.
	BrandID           string     `json:"brand_id,omitempty"`
	ClientID          string     `json:"client_id,omitempty"`
	ProjectLinkStatus LinkStatus `json:"project_link_status"`
	ClientLinkStatus  LinkStatus `json:"client_link_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overdue reports whether the task is past due and still live.
func (t *Task) Overdue(today time.Time) bool {
	if t.DueDate == nil || t.Status.Terminal() {
		return false
	}
	return t.DueDate.Before(today.Truncate(24 * time.Hour))
}

// Communication is one email thread head (or other inbound message).
type Communication struct {
	ID          string     `json:"id"`
	Source      Source     `json:"source"`
	SourceID    string     `json:"source_id"`
	ThreadID    string     `json:"thread_id"`
	Sender      string     `json:"sender"`
	Recipients  string     `json:"recipients,omitempty"`
	Subject     string     `json:"subject"`
	Snippet     string     `json:"snippet,omitempty"`
	BodyText    string     `json:"body_text,omitempty"`
	BodyMethod  BodyMethod `json:"body_method"`
	ContentHash string     `json:"content_hash"`
	ReceivedAt  time.Time  `json:"received_at"`

	// Derived by the normalizer.
	FromDomain string     `json:"from_domain,omitempty"`
	ClientID   string     `json:"client_id,omitempty"`
	LinkStatus LinkStatus `json:"link_status"`

	// Commitment extraction bookkeeping.
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Commitment is a promise or request extracted from a communication.
type Commitment struct {
	ID              string           `json:"id"`
	CommunicationID string           `json:"communication_id"`
	ClientID        string           `json:"client_id,omitempty"`
	TaskID          string           `json:"task_id,omitempty"`
	Kind            CommitmentKind   `json:"kind"`
	Description     string           `json:"description"`
	DueDate         *time.Time       `json:"due_date,omitempty"`
	Status          CommitmentStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Invoice is an accounts-receivable line from the accounting system.
// Amount and currency are stored separately; amounts never embed symbols.
type Invoice struct {
	ID        string        `json:"id"`
	Source    Source        `json:"source"`
	SourceID  string        `json:"source_id"`
	ClientID  string        `json:"client_id,omitempty"`
	Number    string        `json:"number"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	Status    InvoiceStatus `json:"status"`
	IssueDate *time.Time    `json:"issue_date,omitempty"`
	DueDate   *time.Time    `json:"due_date,omitempty"`
	PaidDate  *time.Time    `json:"paid_date,omitempty"`

	// Derived by the normalizer (set once at insert by the collector).
	AgingBucket AgingBucket `json:"aging_bucket"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a calendar entry within the collection window.
type Event struct {
	ID        string     `json:"id"`
	Source    Source     `json:"source"`
	SourceID  string     `json:"source_id"`
	Title     string     `json:"title"`
	Location  string     `json:"location,omitempty"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Attendees []string   `json:"attendees,omitempty"`
	TaskID    string     `json:"task_id,omitempty"`

	// Prep guidance derived from the title and location at collection
	// time: a minutes estimate plus checklist items.
	PrepMinutes int      `json:"prep_minutes"`
	PrepNotes   []string `json:"prep_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeamMember is a person work can be assigned to. Built from seeds and
// from assignees observed by the Asana collector.
type TeamMember struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	SourceID    string    `json:"source_id,omitempty"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	WeeklyHours float64   `json:"weekly_hours"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CapacityLane is a weekly-hours budget, the authoritative capacity input
// for gates and overload detection.
type CapacityLane struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OwnerID        string    `json:"owner_id,omitempty"`
	WeeklyHours    float64   `json:"weekly_hours"`
	CommittedHours float64   `json:"committed_hours"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Utilization is committed over weekly hours; 0 when the lane has no budget.
func (l *CapacityLane) Utilization() float64 {
	if l.WeeklyHours <= 0 {
		return 0
	}
	return l.CommittedHours / l.WeeklyHours
}

// Lane is the legacy capacity table kept for seed-file compatibility.
// Nothing derives from it; CapacityLane is authoritative.
type Lane struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityEntry maps an email address or domain to a client.
type IdentityEntry struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"` // "email" or "domain"
	Value    string `json:"value"`
	ClientID string `json:"client_id"`
}

const (
	IdentityEmail  = "email"
	IdentityDomain = "domain"
)

// EntityType names the tables a queue item or action may reference.
type EntityType string

const (
	EntityTask          EntityType = "task"
	EntityProject       EntityType = "project"
	EntityClient        EntityType = "client"
	EntityCommunication EntityType = "communication"
	EntityInvoice       EntityType = "invoice"
	EntityGate          EntityType = "gate"
	EntityLane          EntityType = "lane"
	EntityCommitment    EntityType = "commitment"
)

// IssueType classifies a resolution-queue item.
type IssueType string

const (
	IssueMissingProject       IssueType = "missing_project"
	IssueMissingClient        IssueType = "missing_client"
	IssueOverdue              IssueType = "overdue"
	IssueBlocked              IssueType = "blocked"
	IssueStale                IssueType = "stale"
	IssueUnlinkedComm         IssueType = "unlinked_comm"
	IssueInvoiceMissingClient IssueType = "invoice_missing_client"
	IssueInvoiceMissingDue    IssueType = "invoice_missing_due"
	IssueGateFailure          IssueType = "gate_failure"
)

// QueueItem is one human-resolvable issue. Uniqueness is enforced on
// (entity_type, entity_id, issue_type); re-detection touches LastSeenAt.
type QueueItem struct {
	ID               int64      `json:"id"`
	EntityType       EntityType `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	IssueType        IssueType  `json:"issue_type"`
	Priority         int        `json:"priority"` // 1..5, 1 most urgent
	Context          string     `json:"context,omitempty"` // JSON detail blob
	CreatedAt        time.Time  `json:"created_at"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"` // snooze horizon
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolutionAction string     `json:"resolution_action,omitempty"`
}

// Open reports whether the item still needs attention at the given time
// (unresolved and not snoozed past now).
func (q *QueueItem) Open(now time.Time) bool {
	if q.ResolvedAt != nil {
		return false
	}
	if q.ExpiresAt != nil && q.ExpiresAt.After(now) {
		return false
	}
	return true
}

// MoveType names a concrete proposed intervention.
type MoveType string

const (
	MoveCollectionCall   MoveType = "collection_call"
	MoveFollowUpEmail    MoveType = "follow_up_email"
	MoveEscalateBlocker  MoveType = "escalate_blocker"
	MoveReassignOverload MoveType = "reassign_overload"
	MoveScheduleMeeting  MoveType = "schedule_meeting"
	MoveResolveLink      MoveType = "resolve_link"
)

// RiskLevel grades the blast radius of executing a move.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ApprovalMode says whether a human must approve before execution.
type ApprovalMode string

const (
	ApprovalAuto  ApprovalMode = "auto"
	ApprovalHuman ApprovalMode = "human"
)

// ActionStatus is the lifecycle of a pending action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionApproved  ActionStatus = "approved"
	ActionDismissed ActionStatus = "dismissed"
	ActionExpired   ActionStatus = "expired"
	ActionExecuted  ActionStatus = "executed"
)

// Terminal reports whether the status ends the action's life; proposals
// with terminal-status twins may be re-proposed under the same key.
func (s ActionStatus) Terminal() bool {
	return s == ActionDismissed || s == ActionExpired || s == ActionExecuted
}

// PendingAction is a proposed move awaiting an operator decision.
// IdempotencyKey dedupes the same proposal across cycles.
type PendingAction struct {
	ID             string       `json:"id"`
	IdempotencyKey string       `json:"idempotency_key"`
	MoveType       MoveType     `json:"move_type"`
	Domain         Domain       `json:"domain"`
	EntityType     EntityType   `json:"entity_type"`
	EntityID       string       `json:"entity_id"`
	Title          string       `json:"title"`
	Rationale      string       `json:"rationale"`
	Payload        string       `json:"payload,omitempty"` // JSON detail blob
	Risk           RiskLevel    `json:"risk"`
	Approval       ApprovalMode `json:"approval"`
	Status         ActionStatus `json:"status"`
	ProposedAt     time.Time    `json:"proposed_at"`
	DecidedAt      *time.Time   `json:"decided_at,omitempty"`
	DecidedBy      string       `json:"decided_by,omitempty"`
	ExecutedAt     *time.Time   `json:"executed_at,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SyncState is per-source collection bookkeeping.
type SyncState struct {
	Source      Source     `json:"source"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	ItemsSynced int        `json:"items_synced"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Due reports whether a new collection run should start.
func (s *SyncState) Due(now time.Time, interval time.Duration) bool {
	if s.LastSync == nil {
		return true
	}
	return now.Sub(*s.LastSync) >= interval
}

// CycleLog is one control-loop cycle's outcome.
type CycleLog struct {
	ID             int64      `json:"id"`
	CycleNumber    int64      `json:"cycle_number"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Success        bool       `json:"success"`
	FailedPhase    string     `json:"failed_phase,omitempty"`
	Error          string     `json:"error,omitempty"`
	PhaseDurations string     `json:"phase_durations,omitempty"` // JSON {phase: ms}
}

// Summary renders a one-line human description for logs and CLI output.
func (c *CycleLog) Summary() string {
	state := "ok"
	if !c.Success {
		state = "failed"
		if c.FailedPhase != "" {
			state = "failed at " + c.FailedPhase
		}
	}
	return fmt.Sprintf("cycle %d %s", c.CycleNumber, state)
}
