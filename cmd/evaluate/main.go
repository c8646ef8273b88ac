// Command evaluate runs one procurement case file against a policy file and
// prints the decision as JSON. With -audit-jsonl the run is appended to a
// hash-chained audit log; -verify checks such a log and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/cases"
	"github.com/liamcoop/casereview/internal/logger"
	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
	"github.com/liamcoop/casereview/semantic"
)

type options struct {
	policyPath    string
	casePath      string
	contractsPath string
	auditPath     string
	verifyPath    string
	semanticURL   string
	legacy        bool
}

// output is what the command prints for a run
type output struct {
	CaseID  string                       `json:"case_id"`
	Policy  policy.Ref                   `json:"policy"`
	Inputs  rules.Input                  `json:"inputs"`
	Outcome *rules.Outcome               `json:"outcome"`
	Explain map[string]map[string]string `json:"explain"`
	Audit   []audit.Event                `json:"audit,omitempty"`
}

func main() {
	var opts options
	flag.StringVar(&opts.policyPath, "policy", "", "Path to a YAML policy document (required)")
	flag.StringVar(&opts.casePath, "case", "", "Path to a case JSON file (required)")
	flag.StringVar(&opts.contractsPath, "contracts", "", "Path to a vendor contract directory JSON file")
	flag.StringVar(&opts.auditPath, "audit-jsonl", "", "Append the run's audit events to this JSONL log")
	flag.StringVar(&opts.verifyPath, "verify", "", "Verify the hash chain of a JSONL audit log and exit")
	flag.StringVar(&opts.semanticURL, "semantic-url", "", "Semantic check service URL")
	flag.BoolVar(&opts.legacy, "allow-legacy-decisions", false, "Accept rules without then.decision")
	flag.Parse()

	logger.Init(context.Background(), logger.ConfigFromEnv())

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "evaluate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, w io.Writer) error {
	if opts.verifyPath != "" {
		return verify(opts.verifyPath, w)
	}
	if opts.policyPath == "" || opts.casePath == "" {
		return fmt.Errorf("-policy and -case are required")
	}

	p, err := policy.LoadFile(opts.policyPath, policy.LoadOptions{AllowLegacyDecisions: opts.legacy, Logger: logger.Logger})
	if err != nil {
		return err
	}

	c, err := readCase(opts.casePath)
	if err != nil {
		return err
	}

	var contracts *cases.ContractDirectory
	if opts.contractsPath != "" {
		if contracts, err = cases.LoadContracts(opts.contractsPath); err != nil {
			return err
		}
	}

	mem := audit.NewMemorySink()
	sinks := audit.MultiSink{mem}
	if opts.auditPath != "" {
		jsonl, err := audit.OpenJSONL(opts.auditPath)
		if err != nil {
			return err
		}
		defer jsonl.Close()
		sinks = append(sinks, jsonl)
	}

	engineOpts := []rules.Option{rules.WithAuditSink(sinks), rules.WithLogger(logger.Logger)}
	if opts.semanticURL != "" {
		engineOpts = append(engineOpts, rules.WithSemanticChecker(semantic.NewHTTPChecker(semantic.HTTPConfig{URL: opts.semanticURL})))
	}
	engine := rules.NewEngine(engineOpts...)

	in := cases.Normalize(c.Payload, contracts)
	out, err := engine.Run(ctx, c.ID, p, in)
	if out == nil {
		return err
	}
	if err != nil {
		logger.Warn("audit trail incomplete", "case_id", c.ID, "error", err)
	}

	events, _ := mem.ListByCase(ctx, c.ID)
	explain := make(map[string]map[string]string, len(out.RuleResults))
	for _, rr := range out.RuleResults {
		explain[rr.RuleID] = rules.Explain(p, rr, in)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output{
		CaseID:  c.ID,
		Policy:  p.Ref(),
		Inputs:  in,
		Outcome: out,
		Explain: explain,
		Audit:   events,
	})
}

// readCase accepts a stored case ({"case_id", "payload"}) or a bare payload
func readCase(path string) (*cases.Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}

	var c cases.Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode case file: %w", err)
	}
	if c.Payload == nil {
		if err := json.Unmarshal(data, &c.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode case payload: %w", err)
		}
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("ADHOC-%d", time.Now().Unix())
	}
	return &c, nil
}

func verify(path string, w io.Writer) error {
	res := audit.Verify(path)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("audit log %s failed verification", path)
	}
	return nil
}
