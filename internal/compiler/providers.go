package compiler

import (
	"fmt"

	"github.com/pipestack/control-plane/internal/manifest"
)

// familyFlags records which node families are present in a pipeline; they
// gate the ingress and egress HTTP capabilities. The bus capability is
// always emitted.
type familyFlags struct {
	ingressHTTP bool
	egressHTTP  bool
}

// ProvidersManifestName returns the name of a workspace's providers manifest.
func ProvidersManifestName(workspace string) string {
	return workspace + "-providers"
}

// providersManifest builds the workspace-scoped sibling manifest carrying the
// shared capability providers. Its content depends only on the workspace and
// system config, plus the presence-of-family flags.
//
// The bus capability receives the tenant user credentials in cleartext; the
// host injects them into the provider at startup.
func (c *Compiler) providersManifest(t Tenant, flags familyFlags) *manifest.Manifest {
	m := manifest.New(ProvidersManifestName(t.Slug), map[string]string{
		manifest.AnnotationDescription: fmt.Sprintf("shared capability providers for workspace %s", t.Slug),
	})

	if flags.ingressHTTP {
		m.AddComponent(manifest.Component{
			Name: CapIngressHTTP,
			Type: manifest.TypeCapability,
			Properties: manifest.Properties{
				ID:    fmt.Sprintf("%s-%s", t.Slug, CapIngressHTTP),
				Image: c.cfg.Components.IngressHTTPImage,
				Config: []manifest.ConfigBlock{{
					Name: fmt.Sprintf("%s-%s-config", t.Slug, CapIngressHTTP),
					Properties: map[string]string{
						"address": c.cfg.Components.IngressAddress,
					},
				}},
			},
		})
	}

	if flags.egressHTTP {
		m.AddComponent(manifest.Component{
			Name: CapEgressHTTP,
			Type: manifest.TypeCapability,
			Properties: manifest.Properties{
				ID:    fmt.Sprintf("%s-%s", t.Slug, CapEgressHTTP),
				Image: c.cfg.Components.EgressHTTPImage,
			},
		})
	}

	m.AddComponent(manifest.Component{
		Name: CapMessageBus,
		Type: manifest.TypeCapability,
		Properties: manifest.Properties{
			ID:    fmt.Sprintf("%s-%s", t.Slug, CapMessageBus),
			Image: c.cfg.Components.BusImage,
			Config: []manifest.ConfigBlock{{
				Name: fmt.Sprintf("%s-%s-config", t.Slug, CapMessageBus),
				Properties: map[string]string{
					"cluster_uris": c.cfg.ClusterURIs,
					"jwt":          t.UserJWT,
					"seed":         t.UserSeed,
				},
			}},
		},
	})

	return m
}

// capabilityRef builds a capability component that points into the sibling
// providers manifest.
func capabilityRef(workspace, component string) manifest.Component {
	return manifest.Component{
		Name: component,
		Type: manifest.TypeCapability,
		Properties: manifest.Properties{
			Application: &manifest.AppRef{
				Name:      ProvidersManifestName(workspace),
				Component: component,
			},
		},
	}
}
