// Package ledger is the append-only JSONL record of what the router did:
// execution results and orphan marks. Reporting consumes it; nothing in the
// pipeline reads it back except the recent-execution dedupe lookback.
package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Execution is one dispatch outcome.
type Execution struct {
	CorrelationID string    `json:"correlation_id"`
	Symbol        string    `json:"symbol"`
	Result        string    `json:"result"`
	OrderID       string    `json:"order_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	AccountMode   string    `json:"account_mode"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrphanMark flags an order left open under a previous provider after an
// account switch. Bookkeeping only; the order's broker state is untouched.
type OrphanMark struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	AccountMode string    `json:"account_mode"` // the provider the order belongs to
	MarkedAt    time.Time `json:"marked_at"`
}

type entry struct {
	Type string      `json:"type"` // "execution" | "orphan_mark"
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type Ledger struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Ledger{path: path}, nil
}

func (l *Ledger) WriteExecution(e Execution) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return l.append(entry{Type: "execution", Data: e, At: time.Now().UTC()})
}

func (l *Ledger) WriteOrphanMark(m OrphanMark) error {
	if m.MarkedAt.IsZero() {
		m.MarkedAt = time.Now().UTC()
	}
	return l.append(entry{Type: "orphan_mark", Data: m, At: time.Now().UTC()})
}

func (l *Ledger) append(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(string(data) + "\n")
	return err
}

// OrphanMarks reads back every orphan mark, newest last. Used by reporting
// and tests.
func (l *Ledger) OrphanMarks() ([]OrphanMark, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var marks []OrphanMark
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(line, &e); err != nil || e.Type != "orphan_mark" {
			continue
		}
		var m OrphanMark
		if err := json.Unmarshal(e.Data, &m); err != nil {
			continue
		}
		marks = append(marks, m)
	}
	return marks, sc.Err()
}
