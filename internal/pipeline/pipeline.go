// Package pipeline defines the declarative pipeline document accepted by the
// deploy API. A pipeline is a DAG of typed nodes; node kinds are drawn from a
// closed enumeration partitioned into sources, processors, and sinks.
package pipeline

// Kind identifies a node type. The enumeration is closed; the compiler
// rejects anything outside it.
type Kind string

const (
	KindInHTTPWebhook  Kind = "in-http-webhook"
	KindProcessorWasm  Kind = "processor-wasm"
	KindOutLog         Kind = "out-log"
	KindOutHTTPWebhook Kind = "out-http-webhook"
)

// Kinds lists every known node kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindInHTTPWebhook, KindProcessorWasm, KindOutLog, KindOutHTTPWebhook}
}

// Known reports whether k is part of the closed enumeration.
func (k Kind) Known() bool {
	switch k {
	case KindInHTTPWebhook, KindProcessorWasm, KindOutLog, KindOutHTTPWebhook:
		return true
	}
	return false
}

// IsSource reports whether the kind belongs to the `in-*` family.
func (k Kind) IsSource() bool {
	return len(k) > 3 && k[:3] == "in-"
}

// IsProcessor reports whether the kind belongs to the `processor-*` family.
func (k Kind) IsProcessor() bool {
	return len(k) > 10 && k[:10] == "processor-"
}

// IsSink reports whether the kind belongs to the `out-*` family.
func (k Kind) IsSink() bool {
	return len(k) > 4 && k[:4] == "out-"
}

// Position is the node's placement on the editor canvas. The control plane
// carries it through untouched.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single typed stage in a pipeline. DependsOn references
// earlier-declared node names.
type Node struct {
	Name      string         `json:"name" yaml:"name" validate:"required"`
	Kind      Kind           `json:"kind" yaml:"kind" validate:"required"`
	Position  *Position      `json:"position,omitempty" yaml:"position,omitempty"`
	Instances *int           `json:"instances,omitempty" yaml:"instances,omitempty" validate:"omitempty,min=1"`
	DependsOn []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Settings  map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// InstanceCount returns the requested replica count, defaulting to 1.
func (n *Node) InstanceCount() int {
	if n.Instances == nil || *n.Instances < 1 {
		return 1
	}
	return *n.Instances
}

// IsRoot reports whether the node has no dependencies.
func (n *Node) IsRoot() bool {
	return len(n.DependsOn) == 0
}

// Pipeline is the declarative document describing a streaming application.
type Pipeline struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Version string `json:"version" yaml:"version" validate:"required"`
	Nodes   []Node `json:"nodes" yaml:"nodes" validate:"dive"`
}

// Node returns the node with the given name, or nil.
func (p *Pipeline) Node(name string) *Node {
	for i := range p.Nodes {
		if p.Nodes[i].Name == name {
			return &p.Nodes[i]
		}
	}
	return nil
}

// Successors returns the names of nodes that depend on name, in declaration
// order.
func (p *Pipeline) Successors(name string) []string {
	var succ []string
	for i := range p.Nodes {
		for _, dep := range p.Nodes[i].DependsOn {
			if dep == name {
				succ = append(succ, p.Nodes[i].Name)
				break
			}
		}
	}
	return succ
}

// HasSuccessor reports whether any node depends on name.
func (p *Pipeline) HasSuccessor(name string) bool {
	for i := range p.Nodes {
		for _, dep := range p.Nodes[i].DependsOn {
			if dep == name {
				return true
			}
		}
	}
	return false
}

// SettingString returns a string-typed setting, or "" when absent.
func (n *Node) SettingString(key string) string {
	if n.Settings == nil {
		return ""
	}
	if v, ok := n.Settings[key].(string); ok {
		return v
	}
	return ""
}
