package domain

import "time"

// Specialist identifies a role in the claim workflow. Each role is bound to
// exactly one agent definition by configuration.
type Specialist string

const (
	SpecialistAssessor      Specialist = "damage_assessor"
	SpecialistPolicyChecker Specialist = "policy_checker"
	SpecialistRiskAnalyst   Specialist = "risk_analyst"
	SpecialistDataAnalyst   Specialist = "data_analyst"
	SpecialistCommunication Specialist = "communication"
)

// SpecialistOrder is the canonical step order in workflow results. The first
// four are independent of each other; communication always runs last and
// synthesizes their outputs.
var SpecialistOrder = []Specialist{
	SpecialistAssessor,
	SpecialistPolicyChecker,
	SpecialistRiskAnalyst,
	SpecialistDataAnalyst,
	SpecialistCommunication,
}

// Claim is an insurance claim submitted for processing.
type Claim struct {
	ID              string    `json:"claim_id"`
	Type            string    `json:"type"`
	PolicyNumber    string    `json:"policy_number,omitempty"`
	ClaimantID      string    `json:"claimant_id,omitempty"`
	VehicleVIN      string    `json:"vehicle_vin,omitempty"`
	IncidentDate    time.Time `json:"incident_date,omitempty"`
	Description     string    `json:"description,omitempty"`
	ImageRefs       []string  `json:"image_refs,omitempty"`
	EstimatedDamage float64   `json:"estimated_damage,omitempty"`
}

// ExecutionPath records which backend variant processed a workflow.
type ExecutionPath string

const (
	PathManaged  ExecutionPath = "managed"
	PathFallback ExecutionPath = "fallback"
)

// StepStatus is the outcome of one specialist step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is the isolated outcome of a single specialist step. A failed
// step never aborts the workflow; it is surfaced here with its peers intact.
type StepResult struct {
	Specialist Specialist    `json:"specialist"`
	Status     StepStatus    `json:"status"`
	Path       ExecutionPath `json:"path,omitempty"`
	Output     string        `json:"output,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
	ThreadID   string        `json:"thread_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// WorkflowResult is the aggregated outcome of processing one claim.
type WorkflowResult struct {
	ResultID       string        `json:"result_id"`
	ClaimID        string        `json:"claim_id"`
	Path           ExecutionPath `json:"path"`
	Steps          []StepResult  `json:"steps"`
	Recommendation string        `json:"recommendation,omitempty"`
	Success        bool          `json:"success"`
	Degraded       bool          `json:"degraded"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// FailedSteps lists the specialists whose steps failed.
func (r *WorkflowResult) FailedSteps() []Specialist {
	var failed []Specialist
	for _, step := range r.Steps {
		if step.Status == StepFailed {
			failed = append(failed, step.Specialist)
		}
	}
	return failed
}
