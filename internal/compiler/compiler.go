// Package compiler turns a pipeline document into the pair of application
// manifests submitted to a workspace's reconciler: the pipeline manifest and
// the workspace-scoped providers manifest.
//
// Compilation is a pure function of its inputs: the same pipeline, tenant,
// and system config always produce byte-identical manifests after canonical
// serialization.
package compiler

import (
	"fmt"

	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
)

// Tenant carries the workspace identity material that flows into manifests.
type Tenant struct {
	Slug string

	// UserJWT and UserSeed authenticate the tenant's bus capability; they
	// are handed to the host in cleartext through the providers manifest.
	UserJWT  string
	UserSeed string
}

// Config is the compiler's immutable view of system configuration.
type Config struct {
	Components  config.ComponentsConfig
	RegistryURL string
	ClusterURIs string
}

// Compiler orchestrates the per-kind builders and the capability wiring.
type Compiler struct {
	cfg Config
}

// New creates a compiler.
func New(cfg Config) *Compiler {
	return &Compiler{cfg: cfg}
}

// PipelineManifestName returns the name of a pipeline's manifest.
func PipelineManifestName(workspace, pipelineName string) string {
	return fmt.Sprintf("%s-%s", workspace, pipelineName)
}

// Compile transforms a pipeline into its manifest pair. On any error no
// manifest is returned: compilation is all-or-nothing.
func (c *Compiler) Compile(p *pipeline.Pipeline, t Tenant) (*manifest.Manifest, *manifest.Manifest, error) {
	if err := checkNodes(p); err != nil {
		return nil, nil, err
	}

	depths, err := nodeDepths(p)
	if err != nil {
		return nil, nil, err
	}

	bc := &buildContext{
		components: c.cfg.Components,
		registry:   c.cfg.RegistryURL,
		workspace:  t.Slug,
		p:          p,
		depths:     depths,
	}

	pm := manifest.New(PipelineManifestName(t.Slug, p.Name), map[string]string{
		manifest.AnnotationVersion:     p.Version,
		manifest.AnnotationDescription: fmt.Sprintf("pipestack pipeline %s for workspace %s", p.Name, t.Slug),
	})

	flags := familyFlags{}

	// Emit node components in declaration order; within a node, the builder
	// fixes the order per kind.
	for i := range p.Nodes {
		n := &p.Nodes[i]
		b, ok := builders[n.Kind]
		if !ok {
			return nil, nil, cperrors.NewCompileError(
				cperrors.ReasonUnknownKind, n.Name, "unknown node kind %q", n.Kind,
			)
		}
		components, err := b.build(bc, n)
		if err != nil {
			return nil, nil, err
		}
		for _, comp := range components {
			pm.AddComponent(comp)
		}
		if n.Kind.IsSource() {
			flags.ingressHTTP = true
		}
		if n.Kind == pipeline.KindOutHTTPWebhook {
			flags.egressHTTP = true
		}
	}

	// Capability references into the providers sibling manifest.
	if flags.ingressHTTP {
		ref := capabilityRef(t.Slug, CapIngressHTTP)
		for i := range p.Nodes {
			n := &p.Nodes[i]
			if !n.Kind.IsSource() {
				continue
			}
			ref.Traits = append(ref.Traits, manifest.LinkWithSource(
				"", n.Name, nsWasi, pkgHTTP,
				&manifest.LinkSource{Config: []manifest.ConfigBlock{{
					Name:       bc.configName(n.Name + "-path"),
					Properties: map[string]string{"path": "/" + p.Name},
				}}},
				ifaceHTTPIncoming,
			))
		}
		pm.AddComponent(ref)
	}
	if flags.egressHTTP {
		pm.AddComponent(capabilityRef(t.Slug, CapEgressHTTP))
	}
	if len(p.Nodes) > 0 {
		pm.AddComponent(c.busCapability(bc))
	}

	if err := checkComponentNames(pm); err != nil {
		return nil, nil, err
	}

	return pm, c.providersManifest(t, flags), nil
}

// CompileProviders builds the providers manifest alone, with every
// capability enabled; used by providers-only deploys where the node set is
// unknown.
func (c *Compiler) CompileProviders(t Tenant) *manifest.Manifest {
	return c.providersManifest(t, familyFlags{ingressHTTP: true, egressHTTP: true})
}

// busCapability builds the message bus capability reference with one
// subscription link per topic-bearing node: processors first in declaration
// order, then sinks, numbered subscription-1..n.
func (c *Compiler) busCapability(bc *buildContext) manifest.Component {
	ref := capabilityRef(bc.workspace, CapMessageBus)

	sub := 0
	addSubscription := func(n *pipeline.Node) {
		topic := bc.topicFor(n)
		if topic == "" {
			return
		}
		sub++
		name := fmt.Sprintf("subscription-%d", sub)
		ref.Traits = append(ref.Traits, manifest.LinkWithSource(
			name, ingressSidecar(n.Name), nsWasmcloud, pkgMessaging,
			&manifest.LinkSource{Config: []manifest.ConfigBlock{{
				Name:       bc.configName(name),
				Properties: map[string]string{"subscriptions": topic},
			}}},
			ifaceMsgHandler,
		))
	}

	for i := range bc.p.Nodes {
		if bc.p.Nodes[i].Kind.IsProcessor() {
			addSubscription(&bc.p.Nodes[i])
		}
	}
	for i := range bc.p.Nodes {
		if bc.p.Nodes[i].Kind.IsSink() {
			addSubscription(&bc.p.Nodes[i])
		}
	}

	return ref
}

// checkNodes validates node name uniqueness before building.
func checkNodes(p *pipeline.Pipeline) error {
	seen := make(map[string]bool, len(p.Nodes))
	for i := range p.Nodes {
		name := p.Nodes[i].Name
		if seen[name] {
			return cperrors.NewCompileError(
				cperrors.ReasonConflictingName, name, "duplicate node name",
			)
		}
		seen[name] = true
	}
	return nil
}

// checkComponentNames rejects collisions between user node names and
// synthesized component names.
func checkComponentNames(m *manifest.Manifest) error {
	seen := make(map[string]bool, len(m.Spec.Components))
	for i := range m.Spec.Components {
		name := m.Spec.Components[i].Name
		if seen[name] {
			return cperrors.NewCompileError(
				cperrors.ReasonConflictingName, name, "duplicate component name in manifest",
			)
		}
		seen[name] = true
	}
	return nil
}
