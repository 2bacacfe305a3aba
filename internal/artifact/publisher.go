// Package artifact publishes tenant-built Wasm components from the object
// store into the platform OCI registry under deterministic references.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"golang.org/x/sync/errgroup"

	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/pipeline"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
)

const (
	wasmConfigMediaType types.MediaType = "application/vnd.wasm.config.v0+json"
	wasmLayerMediaType  types.MediaType = "application/wasm"

	// pushConcurrency bounds the registry fan-out for large pipelines.
	pushConcurrency = 4
)

// BlobFetcher retrieves a tenant blob by object key.
type BlobFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Publisher copies processor node blobs into the OCI registry.
type Publisher struct {
	store  BlobFetcher
	cfg    config.RegistryConfig
	logger *slog.Logger
	client *http.Client
}

// NewPublisher creates a publisher backed by the given blob store.
func NewPublisher(store BlobFetcher, cfg config.RegistryConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Publish pushes an image for every processor node in the pipeline. Nodes are
// pushed concurrently; failures are collected per node so one bad blob does
// not hide another. A pipeline with no processor nodes is a no-op.
func (pb *Publisher) Publish(ctx context.Context, workspace string, p *pipeline.Pipeline) error {
	var processors []*pipeline.Node
	for i := range p.Nodes {
		if p.Nodes[i].Kind.IsProcessor() {
			processors = append(processors, &p.Nodes[i])
		}
	}
	if len(processors) == 0 {
		return nil
	}

	if err := pb.probeRegistry(ctx); err != nil {
		return fmt.Errorf("registry unavailable: %w", err)
	}

	var (
		mu    sync.Mutex
		fails cperrors.NodeErrors
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pushConcurrency)
	for _, n := range processors {
		n := n
		g.Go(func() error {
			if err := pb.publishNode(gctx, workspace, p, n); err != nil {
				ne := &cperrors.NodeError{Node: n.Name, Op: "push", Err: err}
				if fe, ok := err.(*fetchError); ok {
					ne.Op = "fetch"
					ne.Err = fe.err
				}
				mu.Lock()
				fails = append(fails, ne)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(fails) > 0 {
		sort.Slice(fails, func(i, j int) bool { return fails[i].Node < fails[j].Node })
		return fails
	}
	return nil
}

// fetchError distinguishes blob retrieval failures from push failures.
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }

func (e *fetchError) Unwrap() error { return e.err }

func (pb *Publisher) publishNode(ctx context.Context, workspace string, p *pipeline.Pipeline, n *pipeline.Node) error {
	key := ObjectKey(workspace, p.Name, p.Version, n.Name)
	blob, err := pb.store.Fetch(ctx, key)
	if err != nil {
		return &fetchError{err: err}
	}

	ref := ImageRef(pb.cfg.URL, workspace, p.Name, p.Version, n.Name)

	var nameOpts []name.Option
	if pb.cfg.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	parsed, err := name.ParseReference(ref, nameOpts...)
	if err != nil {
		return fmt.Errorf("invalid image reference %s: %w", ref, err)
	}

	layer := static.NewLayer(blob, wasmLayerMediaType)
	img, err := mutate.AppendLayers(mutate.ConfigMediaType(empty.Image, wasmConfigMediaType), layer)
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}

	auth := authn.Authenticator(authn.Anonymous)
	if pb.cfg.Username != "" {
		auth = &authn.Basic{Username: pb.cfg.Username, Password: pb.cfg.Password}
	}

	if err := remote.Write(parsed, img, remote.WithAuth(auth), remote.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}

	pb.logger.Info("published node artifact",
		"workspace", workspace,
		"pipeline", p.Name,
		"node", n.Name,
		"image", ref,
	)
	return nil
}

// probeRegistry checks the registry's /v2/ endpoint before fanning out.
// Auth challenges count as reachable.
func (pb *Publisher) probeRegistry(ctx context.Context) error {
	scheme := "https"
	if pb.cfg.Insecure {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s/v2/", scheme, pb.cfg.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := pb.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return nil
	default:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
}
