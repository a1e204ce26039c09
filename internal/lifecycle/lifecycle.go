// Package lifecycle parses the declarative lifecycle document (the
// phase/act graph, YAML-ish) read once at startup. It does not validate
// graph invariants — that is pkg/graph's job.
package lifecycle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OutcomeSpec is one entry of a node's results list.
type OutcomeSpec struct {
	Outcome string `yaml:"outcome"`
	On      string `yaml:"on"`
	Next    string `yaml:"next"`
}

// results unmarshals either a single outcome spec or a list of them
// under the same key, since the document allows both shapes.
type results map[string][]OutcomeSpec

func (r *results) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]yaml.Node{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := make(results, len(raw))
	for key, node := range raw {
		switch node.Kind {
		case yaml.SequenceNode:
			var specs []OutcomeSpec
			if err := node.Decode(&specs); err != nil {
				return fmt.Errorf("results[%s]: %w", key, err)
			}
			out[key] = specs
		default:
			var spec OutcomeSpec
			if err := node.Decode(&spec); err != nil {
				return fmt.Errorf("results[%s]: %w", key, err)
			}
			out[key] = []OutcomeSpec{spec}
		}
	}
	*r = out
	return nil
}

// Node is the raw, uncompiled shape of a lifecycle document node.
type Node struct {
	Label    string  `yaml:"label"`
	Executor *string `yaml:"executor"` // nil means explicit null: a phase group
	Parent   string  `yaml:"parent"`
	Results  results `yaml:"results"`
}

// Document is the parsed lifecycle document: `states` plus one entry
// per node, keyed by node name.
type Document struct {
	States map[string]string
	Nodes  map[string]Node
}

func (d *Document) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]yaml.Node{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	doc := Document{Nodes: map[string]Node{}}
	for key, node := range raw {
		if key == "states" {
			if err := node.Decode(&doc.States); err != nil {
				return fmt.Errorf("states: %w", err)
			}
			continue
		}
		var n Node
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("node %s: %w", key, err)
		}
		doc.Nodes[key] = n
	}
	*d = doc
	return nil
}

// Load reads and parses the lifecycle document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lifecycle document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse lifecycle document: %w", err)
	}
	return &doc, nil
}
