// Package archive writes every iteration of a session to disk for later
// inspection. The layout is
//
//	<dir>/<session>/iter-01/program.json
//	<dir>/<session>/iter-01/snapshot.png
//	<dir>/<session>/iter-01/verdict.txt
//	<dir>/<session>/iter-01/rejected-1.json
//	<dir>/<session>/session.json
//
// It is output only; nothing reads it back.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"canvas-studio/entities/orchestrator"
	"canvas-studio/tools/dsl"
	"canvas-studio/tools/llm"
	"canvas-studio/tools/logger"
)

// Archive is an orchestrator.Observer. Write failures are logged and never
// reach the session.
type Archive struct {
	dir string
	log *logger.Logger

	mu       sync.Mutex
	rejected map[string]int
}

// New creates an archive rooted at dir.
func New(dir string, log *logger.Logger) *Archive {
	if log == nil {
		log = logger.Default()
	}
	return &Archive{dir: dir, log: log.WithPrefix("archive"), rejected: map[string]int{}}
}

// Dir is the directory a session is archived under.
func (a *Archive) Dir(sessionID string) string {
	return filepath.Join(a.dir, sessionID)
}

func iterDir(session string, index int) string {
	return filepath.Join(session, fmt.Sprintf("iter-%02d", index))
}

func (a *Archive) OnEvent(e orchestrator.Event) {
	var err error
	switch {
	case e.From == orchestrator.StateGenerating && len(e.Raw) > 0 &&
		(e.To == orchestrator.StateGenerating || e.To == orchestrator.StateFailed):
		err = a.writeRejected(e)
	case e.Verdict != nil:
		err = a.writeIteration(e)
	}
	if err != nil {
		a.log.Warn("session %s iteration %d: %v", e.SessionID, e.Iteration, err)
	}

	if e.To.Terminal() {
		if err := a.writeSession(e); err != nil {
			a.log.Warn("session %s: %v", e.SessionID, err)
		}
		a.mu.Lock()
		delete(a.rejected, e.SessionID)
		a.mu.Unlock()
	}
}

// writeRejected keeps a planner document that failed validation, including
// the last one when it used up the corrective budget.
func (a *Archive) writeRejected(e orchestrator.Event) error {
	a.mu.Lock()
	a.rejected[e.SessionID]++
	n := a.rejected[e.SessionID]
	a.mu.Unlock()

	dir := iterDir(a.Dir(e.SessionID), e.Iteration)
	return writeFile(filepath.Join(dir, fmt.Sprintf("rejected-%d.json", n)), e.Raw)
}

func (a *Archive) writeIteration(e orchestrator.Event) error {
	dir := iterDir(a.Dir(e.SessionID), e.Iteration)
	if e.Program != nil {
		doc, err := dsl.Marshal(e.Program)
		if err != nil {
			return fmt.Errorf("encode program: %w", err)
		}
		if err := writeFile(filepath.Join(dir, "program.json"), doc); err != nil {
			return err
		}
	}
	if e.Snapshot != nil {
		var buf bytes.Buffer
		if err := e.Snapshot.EncodePNG(&buf); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := writeFile(filepath.Join(dir, "snapshot.png"), buf.Bytes()); err != nil {
			return err
		}
	}
	return writeFile(filepath.Join(dir, "verdict.txt"), []byte(e.Verdict.String()+"\n"))
}

// Summary is the content of session.json.
type Summary struct {
	ID         string             `json:"id"`
	Intent     string             `json:"intent"`
	Canvas     dsl.CanvasSpec     `json:"canvas"`
	State      string             `json:"state"`
	Reason     string             `json:"reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	Iterations []IterationSummary `json:"iterations"`
	Usage      llm.Usage          `json:"usage"`
	CostUSD    float64            `json:"cost_usd"`
	Started    time.Time          `json:"started"`
	Finished   time.Time          `json:"finished"`
}

// IterationSummary is one entry of Summary.Iterations.
type IterationSummary struct {
	Index    int       `json:"index"`
	Attempts int       `json:"attempts"`
	Ops      int       `json:"ops"`
	Verdict  string    `json:"verdict"`
	Usage    llm.Usage `json:"usage"`
	CostUSD  float64   `json:"cost_usd"`
}

func summarize(e orchestrator.Event) Summary {
	s := e.Session
	sum := Summary{
		ID:         e.SessionID,
		State:      e.To.String(),
		Iterations: []IterationSummary{},
		Finished:   e.Time,
	}
	if e.To == orchestrator.StateFailed {
		sum.Reason = e.Reason
		if e.Err != nil {
			sum.Error = e.Err.Error()
		}
	}
	if s == nil {
		return sum
	}
	sum.Intent, sum.Canvas = s.Intent, s.Canvas
	sum.Usage, sum.CostUSD, sum.Started = s.Usage, s.CostUSD, s.Started
	for _, rec := range s.Records {
		it := IterationSummary{
			Index:    rec.Index,
			Attempts: rec.Attempts,
			Verdict:  rec.Verdict.String(),
			Usage:    rec.Usage,
			CostUSD:  rec.CostUSD,
		}
		if rec.Program != nil {
			it.Ops = len(rec.Program.Ops)
		}
		sum.Iterations = append(sum.Iterations, it)
	}
	return sum
}

func (a *Archive) writeSession(e orchestrator.Event) error {
	data, err := json.MarshalIndent(summarize(e), "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return writeFile(filepath.Join(a.Dir(e.SessionID), "session.json"), append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
