package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Decision is the outcome a rule asks for when it hits
type Decision string

const (
	DecisionApprove  Decision = "APPROVE"
	DecisionReview   Decision = "REVIEW"
	DecisionEscalate Decision = "ESCALATE"
	DecisionReject   Decision = "REJECT"
)

// Priority orders decisions: REJECT > ESCALATE > REVIEW > APPROVE.
// Unknown decisions rank below APPROVE.
func (d Decision) Priority() int {
	switch d {
	case DecisionReject:
		return 4
	case DecisionEscalate:
		return 3
	case DecisionReview:
		return 2
	case DecisionApprove:
		return 1
	default:
		return 0
	}
}

// ParseDecision converts a case-insensitive decision name
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	if d.Priority() == 0 {
		return "", fmt.Errorf("unknown decision %q (must be one of: APPROVE, REVIEW, ESCALATE, REJECT)", s)
	}
	return d, nil
}

// RiskLevel is the derived risk of a case, also used as a rule's declared impact
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels: CRITICAL > HIGH > MEDIUM > LOW. Unknown levels rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// ParseRiskLevel converts a case-insensitive risk level name
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if r.Rank() == 0 {
		return "", fmt.Errorf("unknown risk level %q (must be one of: LOW, MEDIUM, HIGH, CRITICAL)", s)
	}
	return r, nil
}

// MaxRisk returns the higher of two risk levels
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RuleKind routes a rule to the evaluator that understands it.
// The set is closed: unknown kinds fail when the policy document is parsed.
type RuleKind int

const (
	KindDeterministic RuleKind = iota
	KindSemantic
	KindContract
)

// ParseRuleKind accepts the canonical names plus the aliases older policy files use
func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deterministic":
		return KindDeterministic, nil
	case "semantic", "llm_semantic_check":
		return KindSemantic, nil
	case "contract", "contract_check":
		return KindContract, nil
	default:
		return 0, fmt.Errorf("unknown rule type %q (must be one of: deterministic, semantic, contract)", s)
	}
}

func (k RuleKind) String() string {
	switch k {
	case KindSemantic:
		return "semantic"
	case KindContract:
		return "contract"
	default:
		return "deterministic"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k RuleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler; used by both the YAML and JSON decoders
func (k *RuleKind) UnmarshalText(text []byte) error {
	parsed, err := ParseRuleKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Operator is a comparison used by rule conditions
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpContains     Operator = "contains"
)

// Valid reports whether op is one of the supported operators
func (op Operator) Valid() bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual, OpIn, OpNotIn, OpContains:
		return true
	}
	return false
}

// Condition compares one input field against an expected value
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value" json:"value"`
}

// Action is what a rule asks for when it hits
type Action struct {
	Decision Decision `yaml:"decision,omitempty" json:"decision,omitempty"`
}

// Rule is a named, typed condition set with a declared outcome and risk impact
type Rule struct {
	ID          string      `yaml:"id" json:"id"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        RuleKind    `yaml:"type,omitempty" json:"type"`
	IsActive    *bool       `yaml:"is_active,omitempty" json:"is_active,omitempty"`
	When        []Condition `yaml:"when,omitempty" json:"when,omitempty"`
	Then        Action      `yaml:"then,omitempty" json:"then"`
	RiskImpact  RiskLevel   `yaml:"risk_impact,omitempty" json:"risk_impact,omitempty"`
}

// Active reports whether the rule participates in evaluation; unset means active
func (r *Rule) Active() bool {
	return r.IsActive == nil || *r.IsActive
}

// AmountThresholds are the numeric breakpoints of the amount safety net
type AmountThresholds struct {
	Medium *float64 `yaml:"medium,omitempty" json:"medium,omitempty"`
	High   *float64 `yaml:"high,omitempty" json:"high,omitempty"`
}

// Thresholds groups policy-level numeric breakpoints
type Thresholds struct {
	Amount AmountThresholds `yaml:"amount" json:"amount"`
}

// SafetyNet is the last-resort risk override
type SafetyNet struct {
	HighRiskThreshold *float64  `yaml:"high_risk_threshold,omitempty" json:"high_risk_threshold,omitempty"`
	ForceRiskLevel    RiskLevel `yaml:"force_risk_level,omitempty" json:"force_risk_level,omitempty"`
}

// ContractCompliance switches the built-in contract checks
type ContractCompliance struct {
	ValidityCheck         bool    `yaml:"validity_check" json:"validity_check"`
	PriceCheck            bool    `yaml:"price_check" json:"price_check"`
	MaxAllowedVariancePct float64 `yaml:"max_allowed_variance_pct" json:"max_allowed_variance_pct"`
}

// AuthorityRule maps a condition over the inputs to the role that must approve
type AuthorityRule struct {
	Condition    string `yaml:"condition" json:"condition"`
	RequiredRole string `yaml:"required_role" json:"required_role"`

	program    cel.Program
	compileErr error
}

// Authority lists approval routing rules, first match wins
type Authority struct {
	Rules []AuthorityRule `yaml:"rules" json:"rules"`
}

// Policy is an immutable, versioned rule configuration document.
// Build one with Parse or LoadFile; a Policy must not be modified after loading.
type Policy struct {
	PolicyID           string              `yaml:"policy_id" json:"policy_id"`
	Version            string              `yaml:"version" json:"version"`
	Name               string              `yaml:"name,omitempty" json:"name,omitempty"`
	Rules              []Rule              `yaml:"rules" json:"rules"`
	Thresholds         Thresholds          `yaml:"thresholds" json:"thresholds"`
	Config             SafetyNet           `yaml:"config" json:"config"`
	Authority          Authority           `yaml:"authority" json:"authority"`
	ContractCompliance *ContractCompliance `yaml:"contract_compliance,omitempty" json:"contract_compliance,omitempty"`

	document []byte
	hash     string
}

// Rule finds a rule by ID
func (p *Policy) Rule(id string) (*Rule, bool) {
	for i := range p.Rules {
		if p.Rules[i].ID == id {
			return &p.Rules[i], true
		}
	}
	return nil, false
}

// RulesOfKind returns the rules routed to one evaluator, in policy order
func (p *Policy) RulesOfKind(kind RuleKind) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Document returns the source document the policy was parsed from
func (p *Policy) Document() []byte {
	return p.document
}

// Hash is the "sha256:<hex>" digest of the policy's canonical JSON form
func (p *Policy) Hash() string {
	return p.hash
}

// Ref identifies a stored policy version
type Ref struct {
	PolicyID string `json:"policy_id"`
	Version  string `json:"version"`
	Hash     string `json:"hash"`
}

// Ref returns the policy's identity
func (p *Policy) Ref() Ref {
	return Ref{PolicyID: p.PolicyID, Version: p.Version, Hash: p.hash}
}
