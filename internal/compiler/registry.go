package compiler

import (
	"fmt"
	"sort"

	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
)

// Interface vocabulary for link traits.
const (
	nsWasi            = "wasi"
	pkgHTTP           = "http"
	ifaceHTTPIncoming = "incoming-handler"
	ifaceHTTPOutgoing = "outgoing-handler"

	nsWasmcloud      = "wasmcloud"
	pkgMessaging     = "messaging"
	ifaceMsgConsumer = "consumer"
	ifaceMsgHandler  = "handler"

	nsPipestack    = "pipestack"
	pkgPipeline    = "pipeline"
	ifaceProcessor = "processor"
	ifaceHandler   = "handler"
)

// Capability component names, shared between the providers manifest and the
// capability references synthesized into each pipeline manifest.
const (
	CapIngressHTTP = "ingress-http"
	CapEgressHTTP  = "egress-http"
	CapMessageBus  = "message-bus"
)

// builder emits the manifest components for one node kind. Builders return
// components in a fixed per-kind order so compilation is deterministic.
type builder interface {
	build(bc *buildContext, n *pipeline.Node) ([]manifest.Component, error)
}

// builders is the single dispatch table mapping the closed kind enumeration
// to its strategy.
var builders = map[pipeline.Kind]builder{
	pipeline.KindInHTTPWebhook:  inHTTPWebhookBuilder{},
	pipeline.KindProcessorWasm:  processorWasmBuilder{},
	pipeline.KindOutLog:         outLogBuilder{},
	pipeline.KindOutHTTPWebhook: outHTTPWebhookBuilder{},
}

// buildContext carries everything a builder needs about the compilation in
// flight.
type buildContext struct {
	components config.ComponentsConfig
	registry   string
	workspace  string
	p          *pipeline.Pipeline
	depths     map[string]int
}

// ingressSidecar returns the name of the node's ingress-from-bus sidecar.
func ingressSidecar(node string) string {
	return "in-internal-for-" + node
}

// egressSidecar returns the name of the node's egress-to-bus sidecar.
func egressSidecar(node string) string {
	return "out-internal-for-" + node
}

// topicFor returns the inbound topic for a node, or "" for roots.
func (bc *buildContext) topicFor(n *pipeline.Node) string {
	if n.IsRoot() {
		return ""
	}
	return Topic(bc.workspace, bc.p.Name, bc.depths[n.Name])
}

// successorTopic returns the topic the node's successors consume. A successor
// can resolve deeper than depth(n)+1 when a longer path also feeds it, so the
// topic follows the successor's own depth, not the publisher's.
func (bc *buildContext) successorTopic(n *pipeline.Node) string {
	depth := bc.depths[n.Name] + 1
	for _, succ := range bc.p.Successors(n.Name) {
		if d := bc.depths[succ]; d > depth {
			depth = d
		}
	}
	return Topic(bc.workspace, bc.p.Name, depth)
}

// componentID derives the host-visible identifier for a component.
func (bc *buildContext) componentID(component string) string {
	return fmt.Sprintf("%s-%s-%s", bc.workspace, bc.p.Name, component)
}

// configName derives a config block name. Embedding the pipeline version
// makes redeploys distinguishable on the host.
func (bc *buildContext) configName(component string) string {
	return fmt.Sprintf("%s-config-v%s", component, bc.p.Version)
}

// settingsProperties flattens a node's string settings into config
// properties; non-string settings are skipped.
func settingsProperties(n *pipeline.Node) map[string]string {
	if len(n.Settings) == 0 {
		return nil
	}
	props := make(map[string]string)
	for _, key := range sortedKeys(n.Settings) {
		if s, ok := n.Settings[key].(string); ok {
			props[key] = s
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
