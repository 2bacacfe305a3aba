package compiler

import (
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
)

// outHTTPWebhookBuilder emits the ingress-from-bus sidecar followed by the
// webhook sink. The sink additionally links to the egress HTTP capability for
// its outbound requests.
type outHTTPWebhookBuilder struct{}

func (outHTTPWebhookBuilder) build(bc *buildContext, n *pipeline.Node) ([]manifest.Component, error) {
	ingress := manifest.Component{
		Name: ingressSidecar(n.Name),
		Type: manifest.TypeComponent,
		Properties: manifest.Properties{
			ID:    bc.componentID(ingressSidecar(n.Name)),
			Image: bc.components.InInternalImage,
		},
		Traits: []manifest.Trait{
			manifest.Spreadscaler(1),
			manifest.Link("", CapMessageBus, nsWasmcloud, pkgMessaging, ifaceMsgConsumer),
			manifest.Link("out", n.Name, nsPipestack, pkgPipeline, ifaceHandler),
		},
	}

	sink := manifest.Component{
		Name: n.Name,
		Type: manifest.TypeComponent,
		Properties: manifest.Properties{
			ID:    bc.componentID(n.Name),
			Image: bc.components.OutHTTPWebhookImage,
		},
		Traits: []manifest.Trait{
			manifest.Spreadscaler(n.InstanceCount()),
			manifest.Link("", CapEgressHTTP, nsWasi, pkgHTTP, ifaceHTTPOutgoing),
		},
	}
	if props := settingsProperties(n); props != nil {
		sink.Properties.Config = []manifest.ConfigBlock{{
			Name:       bc.configName(n.Name),
			Properties: props,
		}}
	}

	return []manifest.Component{ingress, sink}, nil
}
