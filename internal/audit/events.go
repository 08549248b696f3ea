// Package audit implements the hash-chained, signed, append-only ledger
// that records every verdict the engine produces.
//
// Every entry carries the SHA-256 hash of its canonicalized event, a chain
// hash linking it to the previous entry, and an HMAC signature over the
// chain hash. Retroactive edits to any entry break the chain for every
// verifier holding the signing key.
package audit

// Kind tags the closed set of event variants the ledger accepts.
type Kind string

const (
	KindDetection    Kind = "detection"
	KindVerification Kind = "verification"
	KindCustody      Kind = "custody"
)

// Event is a recordable occurrence. Implementations form a closed set;
// free-form payloads are not accepted.
type Event interface {
	EventKind() Kind
	Artifact() string
}

// DetectionEvent records a completed transaction risk verdict.
type DetectionEvent struct {
	TxHash           string   `json:"txHash"`
	RiskScore        float64  `json:"riskScore"`
	Classification   string   `json:"classification"`
	TriggeredRules   []string `json:"triggeredRules"`
	AnomalyScore     float64  `json:"anomalyScore"`
	MLAvailable      bool     `json:"mlAvailable"`
	MatchedExploitID string   `json:"matchedExploitId,omitempty"`
}

func (DetectionEvent) EventKind() Kind    { return KindDetection }
func (e DetectionEvent) Artifact() string { return e.TxHash }

// VerificationEvent records a completed address verification.
type VerificationEvent struct {
	Address         string            `json:"address"`
	StageOutcomes   map[string]string `json:"stageOutcomes"`
	IsKnownAttacker bool              `json:"isKnownAttacker"`
	BehavioralRisk  float64           `json:"behavioralRisk"`
}

func (VerificationEvent) EventKind() Kind    { return KindVerification }
func (e VerificationEvent) Artifact() string { return e.Address }

// CustodyEvent records a chain-of-custody action on a forensic artifact.
type CustodyEvent struct {
	ArtifactID     string `json:"artifactId"`
	CustodyEventID string `json:"custodyEventId"`
	Actor          string `json:"actor"`
	Action         string `json:"action"`
	Location       string `json:"location"`
	IntegrityHash  string `json:"integrityHash"`
}

func (CustodyEvent) EventKind() Kind    { return KindCustody }
func (e CustodyEvent) Artifact() string { return e.ArtifactID }
