package compiler

import (
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
)

// inHTTPWebhookBuilder emits the ingress component for an in-http-webhook
// node plus, when the node has a successor, an egress-to-bus sidecar carrying
// the next step's topic. The ingress links to the egress; the egress links to
// the bus capability as a consumer.
type inHTTPWebhookBuilder struct{}

func (inHTTPWebhookBuilder) build(bc *buildContext, n *pipeline.Node) ([]manifest.Component, error) {
	hasSuccessor := bc.p.HasSuccessor(n.Name)

	ingress := manifest.Component{
		Name: n.Name,
		Type: manifest.TypeComponent,
		Properties: manifest.Properties{
			ID:    bc.componentID(n.Name),
			Image: bc.components.InHTTPWebhookImage,
		},
		Traits: []manifest.Trait{
			manifest.Spreadscaler(n.InstanceCount()),
		},
	}
	if props := settingsProperties(n); props != nil {
		ingress.Properties.Config = []manifest.ConfigBlock{{
			Name:       bc.configName(n.Name),
			Properties: props,
		}}
	}
	if hasSuccessor {
		ingress.Traits = append(ingress.Traits,
			manifest.Link("", egressSidecar(n.Name), nsPipestack, pkgPipeline, ifaceHandler),
		)
	}

	components := []manifest.Component{ingress}

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
