package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by stores when a policy version does not exist
var ErrNotFound = errors.New("policy not found")

// ErrImmutable is returned when a stored policy version would be replaced with different content
var ErrImmutable = errors.New("policy versions are immutable")

// LoadOptions controls how policy documents are parsed and validated
type LoadOptions struct {
	// AllowLegacyDecisions accepts rules without then.decision.
	//
	// Deprecated: policies should declare then.decision on every rule; this only
	// exists so documents written for the rule-id prefix convention still load.
	AllowLegacyDecisions bool

	// Logger receives load-time warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o LoadOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Parse decodes, normalizes and validates a YAML policy document, then compiles
// its authority conditions.
func Parse(data []byte, opts LoadOptions) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := normalize(&p); err != nil {
		return nil, fmt.Errorf("invalid policy %s %s: %w", p.PolicyID, p.Version, err)
	}
	if err := Validate(&p, opts); err != nil {
		return nil, fmt.Errorf("invalid policy %s %s: %w", p.PolicyID, p.Version, err)
	}

	if err := compileAuthority(&p, opts.logger()); err != nil {
		return nil, err
	}

	hash, err := contentHash(&p)
	if err != nil {
		return nil, err
	}
	p.document = append([]byte(nil), data...)
	p.hash = hash

	return &p, nil
}

// LoadFile reads and parses a YAML policy document from disk
func LoadFile(path string, opts LoadOptions) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data, opts)
}

// normalize upper-cases enum fields so documents may use any case
func normalize(p *Policy) error {
	p.PolicyID = strings.TrimSpace(p.PolicyID)
	p.Version = strings.TrimSpace(p.Version)

	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Then.Decision != "" {
			d, err := ParseDecision(string(r.Then.Decision))
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
			r.Then.Decision = d
		}
		if r.RiskImpact != "" {
			lvl, err := ParseRiskLevel(string(r.RiskImpact))
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
			r.RiskImpact = lvl
		}
		for j := range r.When {
			r.When[j].Operator = Operator(strings.ToLower(strings.TrimSpace(string(r.When[j].Operator))))
		}
	}

	if p.Config.ForceRiskLevel == "" {
		p.Config.ForceRiskLevel = RiskHigh
	} else {
		lvl, err := ParseRiskLevel(string(p.Config.ForceRiskLevel))
		if err != nil {
			return fmt.Errorf("config.force_risk_level: %w", err)
		}
		p.Config.ForceRiskLevel = lvl
	}

	return nil
}

// contentHash digests the RFC 8785 canonical JSON form of the policy, so the
// same rules hash identically regardless of YAML formatting
func contentHash(p *Policy) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize policy: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// CompareVersions orders policy versions. Versions that parse as semantic
// versions ("v3.1", "1.0.2") compare numerically; a version that does not parse
// sorts before any that does, and two unparsable versions compare as strings.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA != nil && errB == nil:
		return -1
	case errA == nil && errB != nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
