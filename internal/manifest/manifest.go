// Package manifest models the OAM-shaped application document consumed by
// the host fleet's declarative reconciler, and its canonical YAML form.
//
// Field order in the serialized document follows struct declaration order,
// which is the canonical order: compiling the same pipeline twice yields
// byte-identical YAML.
package manifest

import (
	"bytes"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// APIVersion and Kind are fixed for every application manifest.
const (
	APIVersion      = "core.oam.dev/v1beta1"
	KindApplication = "Application"
)

// Component types.
const (
	TypeComponent  = "component"
	TypeCapability = "capability"
)

// Trait types.
const (
	TraitSpreadscaler = "spreadscaler"
	TraitLink         = "link"
)

// Annotation keys carried in metadata.
const (
	AnnotationVersion     = "version"
	AnnotationDescription = "description"
)

// Manifest is a deployable OAM application document.
type Manifest struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Spec       Spec     `yaml:"spec" json:"spec"`
}

// Metadata names the application and carries its annotations.
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Spec holds the component list.
type Spec struct {
	Components []Component `yaml:"components" json:"components"`
}

// Component is a named unit of the application: a concrete workload or a
// capability provider, optionally referenced from a sibling manifest.
type Component struct {
	Name       string     `yaml:"name" json:"name"`
	Type       string     `yaml:"type" json:"type"`
	Properties Properties `yaml:"properties" json:"properties"`
	Traits     []Trait    `yaml:"traits,omitempty" json:"traits,omitempty"`
}

// Properties is a sum type: either a concrete workload (id, image, config)
// or a reference to a component in a sibling manifest (application).
type Properties struct {
	ID          string        `yaml:"id,omitempty" json:"id,omitempty"`
	Image       string        `yaml:"image,omitempty" json:"image,omitempty"`
	Config      []ConfigBlock `yaml:"config,omitempty" json:"config,omitempty"`
	Application *AppRef       `yaml:"application,omitempty" json:"application,omitempty"`
}

// AppRef points at a component owned by a sibling manifest.
type AppRef struct {
	Name      string `yaml:"name" json:"name"`
	Component string `yaml:"component" json:"component"`
}

// ConfigBlock is a named bag of string properties handed to a component or
// provider at link time.
type ConfigBlock struct {
	Name       string            `yaml:"name" json:"name"`
	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Trait is either a spreadscaler (replica count) or a link (directed edge to
// another component).
type Trait struct {
	Type       string          `yaml:"type" json:"type"`
	Properties TraitProperties `yaml:"properties" json:"properties"`
}

// TraitProperties carries the union of spreadscaler and link fields.
type TraitProperties struct {
	// Spreadscaler
	Instances int `yaml:"instances,omitempty" json:"instances,omitempty"`

	// Link
	Name       string      `yaml:"name,omitempty" json:"name,omitempty"`
	Source     *LinkSource `yaml:"source,omitempty" json:"source,omitempty"`
	Target     *LinkTarget `yaml:"target,omitempty" json:"target,omitempty"`
	Namespace  string      `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Package    string      `yaml:"package,omitempty" json:"package,omitempty"`
	Interfaces []string    `yaml:"interfaces,omitempty,flow" json:"interfaces,omitempty"`
}

// LinkSource carries configuration applied on the source side of a link.
type LinkSource struct {
	Config []ConfigBlock `yaml:"config,omitempty" json:"config,omitempty"`
}

// LinkTarget names the component on the far side of a link.
type LinkTarget struct {
	Name   string        `yaml:"name" json:"name"`
	Config []ConfigBlock `yaml:"config,omitempty" json:"config,omitempty"`
}

// New creates an empty application manifest with the fixed apiVersion/kind.
func New(name string, annotations map[string]string) *Manifest {
	return &Manifest{
		APIVersion: APIVersion,
		Kind:       KindApplication,
		Metadata: Metadata{
			Name:        name,
			Annotations: annotations,
		},
	}
}

// AddComponent appends a component to the manifest.
func (m *Manifest) AddComponent(c Component) {
	m.Spec.Components = append(m.Spec.Components, c)
}

// Component returns the component with the given name, or nil.
func (m *Manifest) Component(name string) *Component {
	for i := range m.Spec.Components {
		if m.Spec.Components[i].Name == name {
			return &m.Spec.Components[i]
		}
	}
	return nil
}

// Spreadscaler builds a spreadscaler trait.
func Spreadscaler(instances int) Trait {
	return Trait{
		Type:       TraitSpreadscaler,
		Properties: TraitProperties{Instances: instances},
	}
}

// Link builds a link trait to the named target.
func Link(name, target, namespace, pkg string, interfaces ...string) Trait {
	return Trait{
		Type: TraitLink,
		Properties: TraitProperties{
			Name:       name,
			Target:     &LinkTarget{Name: target},
			Namespace:  namespace,
			Package:    pkg,
			Interfaces: interfaces,
		},
	}
}

// LinkWithSource builds a link trait carrying source-side configuration.
func LinkWithSource(name, target, namespace, pkg string, source *LinkSource, interfaces ...string) Trait {
	t := Link(name, target, namespace, pkg, interfaces...)
	t.Properties.Source = source
	return t
}

// EncodeYAML serializes the manifest to its canonical YAML form.
func (m *Manifest) EncodeYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest %q: %w", m.Metadata.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize manifest %q: %w", m.Metadata.Name, err)
	}
	return buf.Bytes(), nil
}

// DecodeYAML parses a manifest from YAML.
func DecodeYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// Equal reports structural equality of two manifests.
func Equal(a, b *Manifest) bool {
	return reflect.DeepEqual(a, b)
}
