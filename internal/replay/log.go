// Package replay re-runs recorded observations through a fresh session and
// compares the resulting decisions with a recorded audit trail.
//
// Observation logs are JSON Lines: one session.Observation per line. Blank
// lines and lines starting with '#' are skipped.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/capture.evidence/internal/session"
)

// maxLineBytes bounds a single log line.
const maxLineBytes = 1 << 20

// Writer appends observations to a JSON Lines log.
type Writer struct {
	bw *bufio.Writer
	n  int
}

// NewWriter returns a Writer on w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Write appends one observation.
func (w *Writer) Write(obs session.Observation) error {
	line, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation %s: %w", obs.CandidateID, err)
	}
	line = append(line, '\n')
	if _, err := w.bw.Write(line); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count returns the number of observations written.
func (w *Writer) Count() int { return w.n }

// Flush writes any buffered data.
func (w *Writer) Flush() error { return w.bw.Flush() }

// ReadLog parses a JSON Lines observation log.
func ReadLog(r io.Reader) ([]session.Observation, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []session.Observation
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var obs session.Observation
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&obs); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, obs)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read log after line %d: %w", lineNo, err)
	}
	return out, nil
}

// LoadLog reads the observation log at path.
func LoadLog(path string) ([]session.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	obs, err := ReadLog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return obs, nil
}

// SaveLog writes obs to path, replacing any existing file.
func SaveLog(path string, obs []session.Observation) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	w := NewWriter(f)
	for _, o := range obs {
		if err := w.Write(o); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush log: %w", err)
	}
	return f.Close()
}
