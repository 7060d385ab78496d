// Package sarif projects audit records into a SARIF v2.1.0 document for
// ingestion by security tooling.
package sarif

import (
	"fmt"

	"github.com/jglowsoap/jimini/internal/audit"
	"github.com/jglowsoap/jimini/internal/rules"
)

const (
	schemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	version   = "2.1.0"
)

// Log is the top-level SARIF document.
type Log struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run is a single SARIF run.
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

// Tool identifies the producing driver.
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver carries the tool name and version.
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Result is one projected decision.
type Result struct {
	RuleID  string  `json:"ruleId"`
	Level   string  `json:"level"`
	Message Message `json:"message"`
}

// Message is the SARIF result message.
type Message struct {
	Text string `json:"text"`
}

// FromRecords projects block and flag decisions into a single SARIF run.
func FromRecords(records []audit.Record, driverVersion string) *Log {
	results := make([]Result, 0, len(records))
	for _, rec := range records {
		var level string
		switch rec.Decision {
		case string(rules.ActionBlock):
			level = "error"
		case string(rules.ActionFlag):
			level = "warning"
		default:
			continue
		}
		ruleID := ""
		if len(rec.RuleIDs) > 0 {
			ruleID = rec.RuleIDs[0]
		}
		results = append(results, Result{
			RuleID: ruleID,
			Level:  level,
			Message: Message{
				Text: fmt.Sprintf("%s by %s for %s", rec.Decision, ruleID, rec.AgentID),
			},
		})
	}
	return &Log{
		Schema:  schemaURI,
		Version: version,
		Runs: []Run{{
			Tool:    Tool{Driver: Driver{Name: "Jimini", Version: driverVersion}},
			Results: results,
		}},
	}
}

// Export streams the audit records for a date prefix and projects them.
func Export(auditPath, datePrefix, driverVersion string) (*Log, error) {
	records, err := audit.Query(auditPath, audit.Filter{DatePrefix: datePrefix})
	if err != nil {
		return nil, err
	}
	return FromRecords(records, driverVersion), nil
}
