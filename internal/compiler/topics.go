package compiler

import (
	"fmt"
	"strings"

	"github.com/pipestack/control-plane/internal/pipeline"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
)

// TopicPrefix is the first token of every inter-stage bus subject.
const TopicPrefix = "pipestack"

// Topic returns the bus subject that feeds the nodes at the given depth.
// Roots (depth 1) have no inbound topic; callers never ask for depth < 2.
func Topic(workspace, pipelineName string, depth int) string {
	return fmt.Sprintf("%s.%s.%s.step-%d-in", TopicPrefix, workspace, pipelineName, depth)
}

// nodeDepths assigns each node its longest-path distance from any root by
// iterative relaxation: roots are depth 1, and a node resolves to
// 1 + max(depth of its dependencies) once all dependencies are resolved.
//
// Dangling dependsOn references fail before relaxation starts. Nodes left
// unresolved at the fixed point sit on a dependency cycle.
func nodeDepths(p *pipeline.Pipeline) (map[string]int, error) {
	byName := make(map[string]*pipeline.Node, len(p.Nodes))
	for i := range p.Nodes {
		n := &p.Nodes[i]
		byName[n.Name] = n
	}

	for i := range p.Nodes {
		n := &p.Nodes[i]
		for _, dep := range n.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, cperrors.NewCompileError(
					cperrors.ReasonMissingDependency, n.Name,
					"dependsOn references unknown node %q", dep,
				)
			}
		}
	}

	depths := make(map[string]int, len(p.Nodes))
	for i := range p.Nodes {
		if p.Nodes[i].IsRoot() {
			depths[p.Nodes[i].Name] = 1
		}
	}

	// Relax until a fixed point; each pass resolves at least one node of any
	// acyclic remainder, so the loop runs O(n) passes.
	for changed := true; changed; {
		changed = false
		for i := range p.Nodes {
			n := &p.Nodes[i]
			if _, done := depths[n.Name]; done {
				continue
			}
			max := 0
			resolved := true
			for _, dep := range n.DependsOn {
				d, ok := depths[dep]
				if !ok {
					resolved = false
					break
				}
				if d > max {
					max = d
				}
			}
			if resolved {
				depths[n.Name] = max + 1
				changed = true
			}
		}
	}

	if len(depths) != len(p.Nodes) {
		var stuck []string
		for i := range p.Nodes {
			if _, ok := depths[p.Nodes[i].Name]; !ok {
				stuck = append(stuck, p.Nodes[i].Name)
			}
		}
		return nil, cperrors.NewCompileError(
			cperrors.ReasonCycleDetected, "",
			"dependency cycle involving nodes: %s", strings.Join(stuck, ", "),
		)
	}

	return depths, nil
}
