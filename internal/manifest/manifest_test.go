package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	m := New("default-mine", map[string]string{
		AnnotationVersion:     "1",
		AnnotationDescription: "sample",
	})
	m.AddComponent(Component{
		Name: "in-http-webhook_17",
		Type: TypeComponent,
		Properties: Properties{
			ID:    "default-mine-in-http-webhook_17",
			Image: "ghcr.io/pipestack/in-http-webhook:0.3.0",
			Config: []ConfigBlock{{
				Name:       "in-http-webhook_17-config-v1",
				Properties: map[string]string{"path": "/mine"},
			}},
		},
		Traits: []Trait{
			Spreadscaler(2),
			Link("", "out-internal-for-in-http-webhook_17", "pipestack", "pipeline", "handler"),
		},
	})
	m.AddComponent(Component{
		Name: "message-bus",
		Type: TypeCapability,
		Properties: Properties{
			Application: &AppRef{Name: "default-providers", Component: "message-bus"},
		},
		Traits: []Trait{
			LinkWithSource("subscription-1", "in-internal-for-out-log_19", "wasmcloud", "messaging",
				&LinkSource{Config: []ConfigBlock{{
					Name:       "subscription-1-config-v1",
					Properties: map[string]string{"subscriptions": "pipestack.default.mine.step-2-in"},
				}}},
				"handler"),
		},
	})
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleManifest()

	data, err := m.EncodeYAML()
	require.NoError(t, err)

	parsed, err := DecodeYAML(data)
	require.NoError(t, err)
	assert.True(t, Equal(m, parsed), "round-tripped manifest differs")
}

func TestEncodeCanonicalOrder(t *testing.T) {
	data, err := sampleManifest().EncodeYAML()
	require.NoError(t, err)

	text := string(data)

	// Top-level keys in declaration order.
	api := strings.Index(text, "apiVersion:")
	kind := strings.Index(text, "kind:")
	meta := strings.Index(text, "metadata:")
	spec := strings.Index(text, "spec:")
	require.True(t, api >= 0 && kind > api && meta > kind && spec > meta,
		"top-level keys out of order:\n%s", text)

	// Instances serialize as integers, not strings.
	assert.Contains(t, text, "instances: 2")
	assert.Equal(t, "core.oam.dev/v1beta1", sampleManifest().APIVersion)
}

func TestEncodeDeterministic(t *testing.T) {
	a, err := sampleManifest().EncodeYAML()
	require.NoError(t, err)
	b, err := sampleManifest().EncodeYAML()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestComponentLookup(t *testing.T) {
	m := sampleManifest()

	assert.NotNil(t, m.Component("message-bus"))
	assert.Nil(t, m.Component("ghost"))
}
