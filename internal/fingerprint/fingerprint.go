// Package fingerprint computes content fingerprints of extracted records.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
	"github.com/JakeFAU/rivalwatch/internal/record"
)

// Engine hashes records and raw payloads with SHA-256.
type Engine struct{}

// New returns a SHA-256 fingerprint engine.
func New() *Engine {
	return &Engine{}
}

// Hash returns the hex digest of data.
func (e *Engine) Hash(data []byte) monitor.Fingerprint {
	sum := sha256.Sum256(data)
	return monitor.Fingerprint(hex.EncodeToString(sum[:]))
}

// Fingerprint serializes rec canonically and hashes the result. The canonical bytes are
// returned so callers persist exactly what was hashed.
func (e *Engine) Fingerprint(rec record.Record) (monitor.Fingerprint, []byte, error) {
	if rec == nil {
		return "", nil, fmt.Errorf("fingerprint: nil record")
	}
	canonical, err := Canonicalize(record.Wrap(rec))
	if err != nil {
		return "", nil, err
	}
	return e.Hash(canonical), canonical, nil
}

// Canonicalize renders v as compact JSON with object keys sorted at every depth and
// HTML characters left unescaped. Array order is preserved.
func Canonicalize(v any) ([]byte, error) {
	first, err := encode(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize decode: %w", err)
	}
	out, err := encode(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
