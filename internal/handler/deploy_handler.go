// Package handler provides HTTP handlers for the admin API.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/pipestack/control-plane/internal/pkg/response"
	"github.com/pipestack/control-plane/internal/service"
)

// maxBodySize caps deploy request bodies at 4 MiB.
const maxBodySize = 4 << 20

// DeployHandler handles pipeline deployment HTTP requests.
type DeployHandler struct {
	deployService service.DeployService
}

// NewDeployHandler creates a new deploy handler.
func NewDeployHandler(deployService service.DeployService) *DeployHandler {
	return &DeployHandler{deployService: deployService}
}

// Routes returns a chi router with deploy routes.
func (h *DeployHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/deploy", h.Deploy)
	r.Post("/deploy-providers", h.DeployProviders)
	return r
}

// Deploy handles POST /deploy. The body carries a pipeline and workspace
// slug, as JSON or YAML.
func (h *DeployHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req service.DeployRequest
	if err := decodeBody(r, &req); err != nil {
		response.Fail(w, "invalid request body: "+err.Error())
		return
	}

	result, err := h.deployService.Deploy(r.Context(), req)
	if err != nil {
		response.Fail(w, err.Error())
		return
	}
	response.OK(w, result.Message)
}

// DeployProviders handles POST /deploy-providers.
func (h *DeployHandler) DeployProviders(w http.ResponseWriter, r *http.Request) {
	var req service.DeployProvidersRequest
	if err := decodeBody(r, &req); err != nil {
		response.Fail(w, "invalid request body: "+err.Error())
		return
	}

	result, err := h.deployService.DeployProviders(r.Context(), req)
	if err != nil {
		response.Fail(w, err.Error())
		return
	}
	response.OK(w, result.Message)
}

// decodeBody accepts the same request shape as JSON or YAML. YAML is chosen
// by content type; anything else is tried as JSON first with a YAML
// fallback, since valid JSON is also valid YAML but not vice versa.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "yaml") {
		return yaml.Unmarshal(body, v)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return yaml.Unmarshal(body, v)
	}
	return nil
}
