package compiler

import (
	"github.com/pipestack/control-plane/internal/artifact"
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
)

// processorWasmBuilder emits, in order: the ingress-from-bus sidecar, the
// tenant's Wasm component, and (when the node has a successor) the
// egress-to-bus sidecar. The sidecar pair shuttles messages in and out of the
// user code; the user component itself carries no links.
type processorWasmBuilder struct{}

func (processorWasmBuilder) build(bc *buildContext, n *pipeline.Node) ([]manifest.Component, error) {
	hasSuccessor := bc.p.HasSuccessor(n.Name)

	ingress := manifest.Component{
		Name: ingressSidecar(n.Name),
		Type: manifest.TypeComponent,
		Properties: manifest.Properties{
			ID:    bc.componentID(ingressSidecar(n.Name)),
			Image: bc.components.InInternalImage,
		},
		Traits: []manifest.Trait{
			manifest.Spreadscaler(1),
			manifest.Link("customer", n.Name, nsPipestack, pkgPipeline, ifaceProcessor),
		},
	}
	if hasSuccessor {
		ingress.Traits = append(ingress.Traits,
			manifest.Link("out", egressSidecar(n.Name), nsPipestack, pkgPipeline, ifaceHandler),
		)
	}

	// The user component image is the deterministic reference the artifact
	// publisher pushed to the platform registry.
	user := manifest.Component{
		Name: n.Name,
		Type: manifest.TypeComponent,
		Properties: manifest.Properties{
			ID:    bc.componentID(n.Name),
			Image: artifact.ImageRef(bc.registry, bc.workspace, bc.p.Name, bc.p.Version, n.Name),
		},
		Traits: []manifest.Trait{
			manifest.Spreadscaler(n.InstanceCount()),
		},
	}

	components := []manifest.Component{ingress, user}

	if hasSuccessor {
		egress := manifest.Component{
			Name: egressSidecar(n.Name),
			Type: manifest.TypeComponent,
			Properties: manifest.Properties{
				ID:    bc.componentID(egressSidecar(n.Name)),
				Image: bc.components.OutInternalImage,
				Config: []manifest.ConfigBlock{{
					Name: bc.configName(egressSidecar(n.Name)),
					Properties: map[string]string{
						"next-step-topic": bc.successorTopic(n),
					},
				}},
			},
			Traits: []manifest.Trait{
				manifest.Spreadscaler(1),
				manifest.Link("", CapMessageBus, nsWasmcloud, pkgMessaging, ifaceMsgConsumer),
			},
		}
		components = append(components, egress)
	}

	return components, nil
}
