// Package sdk holds the shared data model for the workflow core: the
// document format (§3.1-3.3), the runtime state (§3.4), and the typed
// error records the rest of the packages raise (§7). It plays the same
// "shared core types" role the teacher's cmd/workflow-runner/sdk package
// plays for the distributed runner, scoped down to an in-process core.
package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Reserved node ids a document may never declare (§3.1, §6.2).
const (
	StartID = "start"
	EndID   = "end"
)

// topLevelKeys are the only keys a document may declare (§6.2: "Unknown
// top-level keys MUST be rejected").
var topLevelKeys = map[string]bool{
	"id": true, "version": true, "input": true, "nodes": true,
	"edges": true, "output": true, "fail_fast": true,
}

// Document is the parsed workflow specification (§3.1).
type Document struct {
	ID       string     `json:"id" yaml:"id"`
	Version  int        `json:"version" yaml:"version"`
	Input    InputSpec  `json:"input" yaml:"input"`
	Nodes    []Node     `json:"nodes" yaml:"nodes"`
	Edges    []Edge     `json:"edges" yaml:"edges"`
	Output   OutputSpec `json:"output" yaml:"output"`
	FailFast *bool      `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	// UnknownKeys carries any top-level key LoadDocument found outside
	// topLevelKeys, so the validator can report it (§6.2).
	UnknownKeys []string `json:"-" yaml:"-"`
}

// InputSpec is the document's input.* block.
type InputSpec struct {
	Schema map[string]interface{} `json:"schema" yaml:"schema"`
}

// OutputSpec is the document's output.* block.
type OutputSpec struct {
	InputMapping Mapping                `json:"input_mapping" yaml:"input_mapping"`
	Schema       map[string]interface{} `json:"schema" yaml:"schema"`
}

// FailFastOrDefault returns the document's fail_fast flag, defaulting to
// true per §3.1.
func (d *Document) FailFastOrDefault() bool {
	if d.FailFast == nil {
		return true
	}
	return *d.FailFast
}

// Mapping is a named set of keys bound to constants or reference strings
// (§3.5). Values are left as interface{} — resolution happens in the
// resolver package.
type Mapping map[string]interface{}

// CaseEntry is one (label, condition) pair of a router's cases block,
// kept in document declaration order because router evaluation is
// order-sensitive (§4.6 "Router's cases is ordered").
type CaseEntry struct {
	Label     string
	Condition string
}

// CaseList is an order-preserving map from case label to condition
// expression. encoding/json and gopkg.in/yaml.v3 both erase object key
// order when decoding into a plain map, so this type hand-rolls ordered
// decoding for both — no library in the example pack offers an
// order-preserving JSON/YAML object decoder.
type CaseList []CaseEntry

// UnmarshalJSON preserves declaration order by walking the object with a
// streaming token decoder instead of decoding into a map.
func (c *CaseList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("cases: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("cases must be a JSON object")
	}

	var out CaseList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("cases: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("cases: key must be a string")
		}
		var cond string
		if err := dec.Decode(&cond); err != nil {
			return fmt.Errorf("cases[%s]: condition must be a string: %w", key, err)
		}
		out = append(out, CaseEntry{Label: key, Condition: cond})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("cases: %w", err)
	}
	*c = out
	return nil
}

// MarshalJSON round-trips CaseList back into a JSON object, preserving
// the order it was decoded in (or constructed in).
func (c CaseList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(entry.Condition)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML preserves declaration order by reading the mapping
// node's Content pairs directly instead of decoding into a map.
func (c *CaseList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("cases must be a YAML mapping")
	}
	var out CaseList
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		var cond string
		if err := valNode.Decode(&cond); err != nil {
			return fmt.Errorf("cases[%s]: condition must be a string: %w", keyNode.Value, err)
		}
		out = append(out, CaseEntry{Label: keyNode.Value, Condition: cond})
	}
	*c = out
	return nil
}

// Labels returns the case labels in declaration order.
func (c CaseList) Labels() []string {
	labels := make([]string, len(c))
	for i, e := range c {
		labels[i] = e.Label
	}
	return labels
}

// nodeKnownFields lists the JSON keys Node models explicitly; everything
// else found on a node object is kind-specific config passed through to
// the Executor untouched (§3.2 "plus kind-specific fields").
var nodeKnownFields = map[string]bool{
	"id": true, "kind": true, "input_mapping": true, "output_mapping": true,
	"cases": true, "default": true, "timeout_s": true,
}

// Node is one user-defined node in the document (§3.2).
type Node struct {
	ID            string   `json:"id" yaml:"id"`
	Kind          string   `json:"kind" yaml:"kind"`
	InputMapping  Mapping  `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	OutputMapping Mapping  `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
	Cases         CaseList `json:"cases,omitempty" yaml:"cases,omitempty"`
	Default       string   `json:"default,omitempty" yaml:"default,omitempty"`
	TimeoutS      *float64 `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`

	// Config holds every field on the node object the core doesn't
	// model itself: the kind-specific fields an Executor interprets
	// (url, method, prompt, program, ...). Opaque to the core (§6.1).
	Config map[string]interface{} `json:"-" yaml:"-"`
}

// IsRouter reports whether this node is a router.
func (n *Node) IsRouter() bool { return n.Kind == KindRouter }

// Router node kind, the one core-meaningful kind the engine special-cases
// (§4.6); all other kinds are opaque dispatch targets.
const KindRouter = "router"

type nodeAlias struct {
	ID            string   `json:"id" yaml:"id"`
	Kind          string   `json:"kind" yaml:"kind"`
	InputMapping  Mapping  `json:"input_mapping" yaml:"input_mapping"`
	OutputMapping Mapping  `json:"output_mapping" yaml:"output_mapping"`
	Cases         CaseList `json:"cases" yaml:"cases"`
	Default       string   `json:"default" yaml:"default"`
	TimeoutS      *float64 `json:"timeout_s" yaml:"timeout_s"`
}

// UnmarshalJSON decodes the modeled fields normally, then captures every
// remaining key into Config.
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	config := make(map[string]interface{})
	for key, val := range raw {
		if nodeKnownFields[key] {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(val, &decoded); err != nil {
			return fmt.Errorf("node %s: field %s: %w", alias.ID, key, err)
		}
		config[key] = decoded
	}
	n.assign(alias, config)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML-sourced documents.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var alias nodeAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return err
	}
	config := make(map[string]interface{})
	for key, val := range raw {
		if nodeKnownFields[key] {
			continue
		}
		var decoded interface{}
		if err := val.Decode(&decoded); err != nil {
			return fmt.Errorf("node %s: field %s: %w", alias.ID, key, err)
		}
		config[key] = decoded
	}
	n.assign(alias, config)
	return nil
}

func (n *Node) assign(alias nodeAlias, config map[string]interface{}) {
	n.ID = alias.ID
	n.Kind = alias.Kind
	n.InputMapping = alias.InputMapping
	n.OutputMapping = alias.OutputMapping
	n.Cases = alias.Cases
	n.Default = alias.Default
	n.TimeoutS = alias.TimeoutS
	n.Config = config
}

// Edge is a document edge in either of its two equivalent forms (§3.3).
// A SimpleEdge populates To (and optionally WhenLabel); a BranchEdge
// populates Routes. The compiler flattens both into normalized edges.
type Edge struct {
	From      string  `json:"from" yaml:"from"`
	To        string  `json:"to,omitempty" yaml:"to,omitempty"`
	WhenLabel string  `json:"when_label,omitempty" yaml:"when_label,omitempty"`
	Routes    []Route `json:"routes,omitempty" yaml:"routes,omitempty"`
}

// Route is one target of a BranchEdge.
type Route struct {
	To        string `json:"to" yaml:"to"`
	WhenLabel string `json:"when_label,omitempty" yaml:"when_label,omitempty"`
}

// IsBranch reports whether this is a BranchEdge (has Routes) rather than
// a SimpleEdge.
func (e *Edge) IsBranch() bool { return len(e.Routes) > 0 }

// LoadDocument parses a workflow document from either JSON or YAML bytes
// (§6.2). JSON is preferred when the bytes are valid JSON (YAML is a
// superset and would also accept them, but the JSON decoder gives exact
// JSON semantics); otherwise the bytes are parsed as YAML.
func LoadDocument(data []byte) (*Document, error) {
	var doc Document
	var rawKeys map[string]json.RawMessage

	if json.Valid(data) {
		if err := json.Unmarshal(data, &rawKeys); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
	} else {
		var rawMap map[string]interface{}
		if err := yaml.Unmarshal(data, &rawMap); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		rawKeys = make(map[string]json.RawMessage, len(rawMap))
		for k := range rawMap {
			rawKeys[k] = nil
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
	}

	for key := range rawKeys {
		if !topLevelKeys[key] {
			doc.UnknownKeys = append(doc.UnknownKeys, key)
		}
	}

	return &doc, nil
}
