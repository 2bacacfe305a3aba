package compiler

import (
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
)

// outLogBuilder emits the ingress-from-bus sidecar followed by the log sink
// component. The sidecar links to the bus capability as a consumer and to the
// sink as "out".
type outLogBuilder struct{}

func (outLogBuilder) build(bc *buildContext, n *pipeline.Node) ([]manifest.Component, error) {
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
			Image: bc.components.OutLogImage,
		},
		Traits: []manifest.Trait{
			manifest.Spreadscaler(n.InstanceCount()),
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
