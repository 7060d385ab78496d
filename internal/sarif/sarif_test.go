package sarif

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jglowsoap/jimini/internal/audit"
)

func TestFromRecordsProjectsBlockAndFlag(t *testing.T) {
	records := []audit.Record{
		{Decision: "block", RuleIDs: []string{"IL-AI-4.2"}, AgentID: "agent-1"},
		{Decision: "allow", RuleIDs: nil, AgentID: "agent-2"},
		{Decision: "flag", RuleIDs: []string{"LEN-1.0", "API-2.0"}, AgentID: "agent-3"},
	}

	log := FromRecords(records, "0.9.0")
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	assert.Equal(t, "Jimini", run.Tool.Driver.Name)
	require.Len(t, run.Results, 2, "allow decisions are not projected")

	assert.Equal(t, "IL-AI-4.2", run.Results[0].RuleID)
	assert.Equal(t, "error", run.Results[0].Level)
	assert.Equal(t, "block by IL-AI-4.2 for agent-1", run.Results[0].Message.Text)

	assert.Equal(t, "LEN-1.0", run.Results[1].RuleID, "first rule id wins")
	assert.Equal(t, "warning", run.Results[1].Level)
	assert.Equal(t, "flag by LEN-1.0 for agent-3", run.Results[1].Message.Text)
}

func TestDocumentShape(t *testing.T) {
	log := FromRecords(nil, "0.9.0")
	data, err := json.Marshal(log)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2.1.0", doc["version"])
	assert.Contains(t, doc, "$schema")

	runs := doc["runs"].([]interface{})
	require.Len(t, runs, 1)
	run := runs[0].(map[string]interface{})
	assert.NotNil(t, run["results"], "results present even when empty")
}
