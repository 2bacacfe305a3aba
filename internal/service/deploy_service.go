// Package service provides business logic implementations.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/pipestack/control-plane/internal/pipeline"
	"github.com/pipestack/control-plane/internal/pkg/ulid"
)

// ArtifactPublisher pushes tenant node artifacts into the OCI registry.
type ArtifactPublisher interface {
	Publish(ctx context.Context, workspace string, p *pipeline.Pipeline) error
}

// ManifestDeployer compiles and submits manifests for a workspace.
type ManifestDeployer interface {
	DeployPipeline(ctx context.Context, slug string, p *pipeline.Pipeline) error
	DeployProviders(ctx context.Context, slug string) error
}

// DeployService defines the interface for deploy operations.
type DeployService interface {
	Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error)
	DeployProviders(ctx context.Context, req DeployProvidersRequest) (*DeployResult, error)
}

// DeployRequest is the request for deploying a pipeline.
type DeployRequest struct {
	WorkspaceSlug string             `json:"workspaceSlug" yaml:"workspaceSlug" validate:"required,min=1,max=100"`
	Pipeline      *pipeline.Pipeline `json:"pipeline" yaml:"pipeline" validate:"required"`
}

// DeployProvidersRequest is the request for deploying only the providers
// manifest.
type DeployProvidersRequest struct {
	WorkspaceSlug string `json:"workspaceSlug" yaml:"workspaceSlug" validate:"required,min=1,max=100"`
}

// DeployResult describes a completed deploy.
type DeployResult struct {
	DeployID string
	Message  string
}

type deployService struct {
	publisher ArtifactPublisher
	deployer  ManifestDeployer
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewDeployService creates a new deploy service.
func NewDeployService(publisher ArtifactPublisher, deployer ManifestDeployer, logger *slog.Logger) DeployService {
	return &deployService{
		publisher: publisher,
		deployer:  deployer,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Deploy validates the request, publishes node artifacts, then compiles and
// submits the manifests. Artifacts go first so the reconciler never pulls a
// reference that does not exist yet.
func (s *deployService) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid deploy request: %w", err)
	}
	if err := s.validate.Struct(req.Pipeline); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	deployID := ulid.New()
	logger := s.logger.With(
		"deploy_id", deployID,
		"workspace", req.WorkspaceSlug,
		"pipeline", req.Pipeline.Name,
	)
	logger.Info("deploy started", "version", req.Pipeline.Version)

	if err := s.publisher.Publish(ctx, req.WorkspaceSlug, req.Pipeline); err != nil {
		logger.Error("artifact publishing failed", "error", err)
		return nil, err
	}

	if err := s.deployer.DeployPipeline(ctx, req.WorkspaceSlug, req.Pipeline); err != nil {
		logger.Error("deploy failed", "error", err)
		return nil, err
	}

	logger.Info("deploy finished")
	return &DeployResult{
		DeployID: deployID,
		Message: fmt.Sprintf("pipeline %s version %s deployed to workspace %s",
			req.Pipeline.Name, req.Pipeline.Version, req.WorkspaceSlug),
	}, nil
}

// DeployProviders validates the request and submits the providers manifest.
func (s *deployService) DeployProviders(ctx context.Context, req DeployProvidersRequest) (*DeployResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid deploy request: %w", err)
	}

	deployID := ulid.New()
	if err := s.deployer.DeployProviders(ctx, req.WorkspaceSlug); err != nil {
		s.logger.Error("providers deploy failed",
			"deploy_id", deployID,
			"workspace", req.WorkspaceSlug,
			"error", err,
		)
		return nil, err
	}

	return &DeployResult{
		DeployID: deployID,
		Message:  fmt.Sprintf("providers deployed to workspace %s", req.WorkspaceSlug),
	}, nil
}
