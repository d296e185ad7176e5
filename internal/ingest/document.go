package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var documentSchema []byte

const schemaURL = "https://tracespool.local/schema/transcript-document.json"

// ErrInvalidDocument marks documents that fail parsing or schema validation.
// Retrying them cannot succeed.
var ErrInvalidDocument = errors.New("invalid transcript document")

// Document is the inbox file format.
type Document struct {
	Session struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
		Path string `json:"path,omitempty"`
	} `json:"session"`
	Turns []Turn `json:"turns"`
}

// Turn is one request/response unit within a document.
type Turn struct {
	UnitID   string          `json:"unitId"`
	At       string          `json:"at"`
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response,omitempty"`

	at time.Time
}

// Time returns the parsed turn timestamp; zero until ParseDocument has run.
func (t Turn) Time() time.Time {
	return t.at
}

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func documentValidator() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(documentSchema))
		if err != nil {
			compileErr = fmt.Errorf("parse document schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("load document schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// ParseDocument validates data against the document schema and decodes it.
func ParseDocument(data []byte) (Document, error) {
	sch, err := documentValidator()
	if err != nil {
		return Document{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	for i := range doc.Turns {
		turn := &doc.Turns[i]
		at, err := parseTurnTime(turn.At)
		if err != nil {
			return Document{}, fmt.Errorf("%w: turns[%d] (unit %s).at: %v", ErrInvalidDocument, i, turn.UnitID, err)
		}
		turn.at = at
	}
	return doc, nil
}

func parseTurnTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is not RFC 3339", value)
	}
	return t, nil
}
