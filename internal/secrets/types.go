// Package secrets serves encrypted secret requests from component hosts
// over the bus, backed by the upstream secret store.
package secrets

// Request is the decrypted secret request payload.
type Request struct {
	Key     string         `json:"key"`
	Field   string         `json:"field,omitempty"`
	Version string         `json:"version,omitempty"`
	Context RequestContext `json:"context"`
}

// RequestContext identifies the requesting entity.
type RequestContext struct {
	EntityJWT   string              `json:"entityJwt"`
	HostJWT     string              `json:"hostJwt,omitempty"`
	Application *ApplicationContext `json:"application,omitempty"`
}

// ApplicationContext names the application the requesting component belongs
// to.
type ApplicationContext struct {
	Name string `json:"name,omitempty"`
}

// Response is the secret response payload; it is encrypted before leaving
// the server in both the success and the error form.
type Response struct {
	Secret *Secret `json:"secret,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Secret carries a resolved secret value. Exactly one of StringSecret and
// BinarySecret is set.
type Secret struct {
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	StringSecret string `json:"stringSecret,omitempty"`
	BinarySecret []byte `json:"binarySecret,omitempty"`
}

// Error strings returned in the encrypted response body. Each failure class
// maps to its own string so hosts can distinguish them.
const (
	errDecryptFailed        = "Failed to decrypt request"
	errRequestMalformed     = "Invalid secret request"
	errSecretNotFound       = "Secret not found"
	errUpstreamUnauthorized = "Upstream secret store rejected credentials"
	errUpstreamNetwork      = "Upstream secret store unreachable"
)
