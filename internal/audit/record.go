// Package audit implements the tamper-evident decision log: a newline-
// delimited stream of canonical JSON records linked by SHA3-256 hashes.
package audit

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// GenesisHash is the previous_hash of the first record in a chain.
var GenesisHash = strings.Repeat("0", 64)

// excerptLimit is the number of leading characters of the input preserved in
// each record. The full text never enters the log, only its hash.
const excerptLimit = 200

// Record is one immutable entry in the audit chain.
type Record struct {
	Timestamp    string            `json:"timestamp"`
	RequestID    string            `json:"request_id"`
	AgentID      string            `json:"agent_id"`
	Direction    string            `json:"direction"`
	Endpoint     string            `json:"endpoint"`
	Decision     string            `json:"decision"`
	RuleIDs      []string          `json:"rule_ids"`
	TextExcerpt  string            `json:"text_excerpt"`
	TextHash     string            `json:"text_hash"`
	PreviousHash string            `json:"previous_hash"`
	ChainHash    string            `json:"chain_hash"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Timestamp format: UTC ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the chain's canonical timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Excerpt returns the first 200 characters of text.
func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit])
}

// TextHash returns the hex SHA3-256 of the full input text.
func TextHash(text string) string {
	sum := sha3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// canonicalBody serializes the record without chain_hash, with keys sorted
// and no insignificant whitespace. Marshaling through a map gets the sorted
// key order from encoding/json for free.
func canonicalBody(r *Record) ([]byte, error) {
	return json.Marshal(bodyMap(r))
}

// canonicalLine serializes the full record, chain_hash included, in the same
// canonical form. This is the on-disk representation.
func canonicalLine(r *Record) ([]byte, error) {
	m := bodyMap(r)
	m["chain_hash"] = r.ChainHash
	return json.Marshal(m)
}

func bodyMap(r *Record) map[string]interface{} {
	ruleIDs := r.RuleIDs
	if ruleIDs == nil {
		ruleIDs = []string{}
	}
	m := map[string]interface{}{
		"timestamp":     r.Timestamp,
		"request_id":    r.RequestID,
		"agent_id":      r.AgentID,
		"direction":     r.Direction,
		"endpoint":      r.Endpoint,
		"decision":      r.Decision,
		"rule_ids":      ruleIDs,
		"text_excerpt":  r.TextExcerpt,
		"text_hash":     r.TextHash,
		"previous_hash": r.PreviousHash,
	}
	if len(r.Metadata) > 0 {
		m["metadata"] = r.Metadata
	}
	return m
}

// computeChainHash returns SHA3-256(previous_hash ∥ canonical body) in hex.
// The record's PreviousHash must already be set.
func computeChainHash(r *Record) (string, error) {
	body, err := canonicalBody(r)
	if err != nil {
		return "", err
	}
	h := sha3.New256()
	h.Write([]byte(r.PreviousHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
