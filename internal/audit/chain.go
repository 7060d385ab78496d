package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrAppend wraps durable-write failures. A decision whose record could not
// be written is never surfaced to the caller.
var ErrAppend = errors.New("audit append failed")

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("audit chain closed")

// Chain is the hash-linked audit log. A single writer goroutine owns the
// file handle and the in-memory tip hash; Append hands records to it over a
// channel so all hashing and I/O happens on one goroutine and concurrent
// appends are totally ordered.
type Chain struct {
	path   string
	logger *zap.Logger

	reqCh  chan appendRequest
	doneCh chan struct{}

	file *os.File
	tip  string

	closeOnce   sync.Once
	countAtomic atomic.Int64
}

type appendRequest struct {
	ctx    context.Context
	record *Record
	result chan error
}

// Open opens (or creates) the log at path, recovers the tip hash from the
// existing records, and starts the writer loop. A trailing partial line is
// treated as not yet committed and overwritten by the next append.
func Open(path string, logger *zap.Logger) (*Chain, error) {
	tip, count, validLen, err := recoverTip(path)
	if err != nil {
		return nil, fmt.Errorf("recover audit chain %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	if err := f.Truncate(validLen); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate partial audit line: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}

	c := &Chain{
		path:   path,
		logger: logger,
		reqCh:  make(chan appendRequest),
		doneCh: make(chan struct{}),
		file:   f,
		tip:    tip,
	}
	c.countAtomic.Store(int64(count))
	go c.writeLoop()

	logger.Info("Audit chain opened",
		zap.String("path", path),
		zap.Int("records", count),
	)
	return c, nil
}

// recoverTip scans the log and returns the chain tip, the record count, and
// the byte length of the well-formed prefix.
func recoverTip(path string) (tip string, count int, validLen int64, err error) {
	tip = GenesisHash
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tip, 0, 0, nil
		}
		return "", 0, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// No trailing newline: partial write from a crashed process.
			return tip, count, offset, nil
		}
		if err != nil {
			return "", 0, 0, err
		}
		var rec Record
		if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil || rec.ChainHash == "" {
			// A malformed committed line is a tamper condition for verify,
			// but for recovery we keep appending after the valid prefix.
			return tip, count, offset, nil
		}
		offset += int64(len(line))
		tip = rec.ChainHash
		count++
	}
}

// Append fills in previous_hash and chain_hash, durably writes one line, and
// updates the tip. Concurrent appends are ordered by the writer loop. If ctx
// expires before the write happens, nothing is written and ctx.Err() is
// returned, preserving "written record implies returned decision".
func (c *Chain) Append(ctx context.Context, rec *Record) error {
	req := appendRequest{ctx: ctx, record: rec, result: make(chan error, 1)}
	select {
	case c.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return ErrClosed
	}
	select {
	case err := <-req.result:
		return err
	case <-c.doneCh:
		return ErrClosed
	}
}

func (c *Chain) writeLoop() {
	for {
		select {
		case <-c.doneCh:
			return
		case req := <-c.reqCh:
			req.result <- c.write(req.ctx, req.record)
		}
	}
}

func (c *Chain) write(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.PreviousHash = c.tip
	hash, err := computeChainHash(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	rec.ChainHash = hash

	line, err := canonicalLine(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	if _, err := c.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	c.tip = hash
	c.countAtomic.Add(1)
	return nil
}

// Count returns the number of records appended or recovered so far.
func (c *Chain) Count() int {
	return int(c.countAtomic.Load())
}

// Close stops the writer loop and closes the file. Safe to call twice.
func (c *Chain) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.doneCh)
		err = c.file.Close()
	})
	return err
}

// Path returns the log file path.
func (c *Chain) Path() string { return c.path }

// VerifyResult is the outcome of a chain verification pass.
type VerifyResult struct {
	Valid      bool `json:"valid"`
	BreakIndex int  `json:"break_index,omitempty"`
	Count      int  `json:"count"`
}

// Verify streams the log at path, recomputing every record's canonical hash
// and checking previous_hash linkage. It stops at the first mismatch.
// Count reports the number of records validated before the break. A trailing
// partial line is ignored.
func Verify(path string) (VerifyResult, error) {
	res := VerifyResult{Valid: true, BreakIndex: -1}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	expected := GenesisHash
	index := 0
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		var rec Record
		if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil ||
			rec.Timestamp == "" || rec.ChainHash == "" || rec.PreviousHash == "" {
			res.Valid = false
			res.BreakIndex = index
			return res, nil
		}
		if rec.PreviousHash != expected {
			res.Valid = false
			res.BreakIndex = index
			return res, nil
		}
		hash, hashErr := computeChainHash(&rec)
		if hashErr != nil || hash != rec.ChainHash {
			res.Valid = false
			res.BreakIndex = index
			return res, nil
		}
		expected = rec.ChainHash
		res.Count++
		index++
	}
}

// Filter selects records for Query. Zero values match everything.
type Filter struct {
	DatePrefix string
	Action     string
	RuleID     string
	RequestID  string
}

func (f Filter) matches(rec *Record) bool {
	if f.DatePrefix != "" && !strings.HasPrefix(rec.Timestamp, f.DatePrefix) {
		return false
	}
	if f.Action != "" && rec.Decision != f.Action {
		return false
	}
	if f.RequestID != "" && rec.RequestID != f.RequestID {
		return false
	}
	if f.RuleID != "" {
		found := false
		for _, id := range rec.RuleIDs {
			if id == f.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Query streams records from the log at path that match the filter.
// Malformed or partial lines are skipped; Verify is the integrity check.
func Query(path string, filter Filter) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Record
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		var rec Record
		if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil {
			continue
		}
		if filter.matches(&rec) {
			out = append(out, rec)
		}
	}
}

// AdminRecord builds a record for an administrative or security event, such
// as a rule reload, carrying details in the metadata map.
func AdminRecord(kind string, metadata map[string]string) *Record {
	return &Record{
		Timestamp: FormatTimestamp(time.Now()),
		RequestID: "",
		AgentID:   "system",
		Direction: "",
		Endpoint:  "internal/" + kind,
		Decision:  "event",
		RuleIDs:   []string{},
		Metadata:  metadata,
	}
}
