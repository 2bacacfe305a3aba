package deployer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipestack/control-plane/internal/compiler"
	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/models"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
	"github.com/pipestack/control-plane/internal/pipeline"
	"github.com/pipestack/control-plane/internal/secretstore"
)

const testAccount = "ATESTACCOUNT"

// fakeBus records every request and answers from a canned script.
type fakeBus struct {
	subjects  []string
	payloads  [][]byte
	responses map[string][]byte // by subject, default {"result":"deployed"}
	failFirst int               // times to time out before succeeding
	calls     int
}

func (f *fakeBus) RequestWithContext(_ context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, nats.ErrTimeout
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)

	body := f.responses[subj]
	if body == nil {
		body = []byte(`{"result":"deployed"}`)
	}
	return &nats.Msg{Data: body}, nil
}

type fakeRepo struct {
	workspaces map[string]*models.Workspace
}

func (f *fakeRepo) GetBySlug(_ context.Context, slug string) (*models.Workspace, error) {
	return f.workspaces[slug], nil
}
func (f *fakeRepo) Create(context.Context, *models.Workspace) error      { return nil }
func (f *fakeRepo) SetNatsAccount(context.Context, string, string) error { return nil }
func (f *fakeRepo) List(context.Context) ([]*models.Workspace, error)    { return nil, nil }

type fakeCreds struct {
	err error
}

func (f *fakeCreds) ReadUserCredentials(_ context.Context, slug string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "user-jwt", "user-seed", nil
}

func provisionedRepo(slug string) *fakeRepo {
	account := testAccount
	return &fakeRepo{workspaces: map[string]*models.Workspace{
		slug: {Slug: slug, NatsAccount: &account},
	}}
}

func testCompiler() *compiler.Compiler {
	return compiler.New(compiler.Config{
		Components: config.ComponentsConfig{
			InHTTPWebhookImage:  "ghcr.io/pipestack/in-http-webhook:0.3.0",
			OutLogImage:         "ghcr.io/pipestack/out-log:0.3.0",
			OutHTTPWebhookImage: "ghcr.io/pipestack/out-http-webhook:0.3.0",
			InInternalImage:     "ghcr.io/pipestack/in-internal:0.3.0",
			OutInternalImage:    "ghcr.io/pipestack/out-internal:0.3.0",
			IngressHTTPImage:    "ghcr.io/wasmcloud/http-server:0.23.2",
			EgressHTTPImage:     "ghcr.io/wasmcloud/http-client:0.12.1",
			BusImage:            "ghcr.io/wasmcloud/messaging-nats:0.24.0",
			IngressAddress:      "0.0.0.0:8000",
		},
		RegistryURL: "registry.local:5000",
		ClusterURIs: "nats://bus:4222",
	})
}

func newTestDeployer(bus *fakeBus, repo *fakeRepo, creds *fakeCreds) *Deployer {
	return New(bus, repo, creds, testCompiler(), config.DeployConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, slog.Default())
}

func threeStage() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name:    "mine",
		Version: "1",
		Nodes: []pipeline.Node{
			{Name: "in-http-webhook_17", Kind: pipeline.KindInHTTPWebhook},
			{Name: "processor-wasm_18", Kind: pipeline.KindProcessorWasm, DependsOn: []string{"in-http-webhook_17"}},
			{Name: "out-log_19", Kind: pipeline.KindOutLog, DependsOn: []string{"processor-wasm_18"}},
		},
	}
}

func TestDeployPipelineSubmissionOrder(t *testing.T) {
	bus := &fakeBus{}
	d := newTestDeployer(bus, provisionedRepo("default"), &fakeCreds{})

	require.NoError(t, d.DeployPipeline(context.Background(), "default", threeStage()))

	// Providers manifest is stored and deployed before the pipeline
	// manifest, each submission acknowledged per step.
	want := []string{
		testAccount + ".ctl.api.model.put",
		testAccount + ".ctl.api.model.deploy",
		testAccount + ".ctl.api.model.put",
		testAccount + ".ctl.api.model.deploy",
	}
	assert.Equal(t, want, bus.subjects)

	// First put carries the providers manifest, third the pipeline manifest.
	assert.Contains(t, string(bus.payloads[0]), "name: default-providers")
	assert.Contains(t, string(bus.payloads[2]), "name: default-mine")
	assert.JSONEq(t, `{"name":"default-providers"}`, string(bus.payloads[1]))
	assert.JSONEq(t, `{"name":"default-mine"}`, string(bus.payloads[3]))
}

func TestDeployProviders(t *testing.T) {
	bus := &fakeBus{}
	d := newTestDeployer(bus, provisionedRepo("default"), &fakeCreds{})

	require.NoError(t, d.DeployProviders(context.Background(), "default"))
	require.Len(t, bus.subjects, 2)
	assert.Contains(t, string(bus.payloads[0]), "name: default-providers")
}

func TestDeployUnknownWorkspace(t *testing.T) {
	bus := &fakeBus{}
	d := newTestDeployer(bus, &fakeRepo{workspaces: map[string]*models.Workspace{}}, &fakeCreds{})

	err := d.DeployPipeline(context.Background(), "ghost", threeStage())
	require.Error(t, err)

	var tnr *cperrors.TenantNotReadyError
	require.ErrorAs(t, err, &tnr)
	assert.Equal(t, `No NATS account configured for workspace "ghost"`, err.Error())
	assert.Empty(t, bus.subjects, "nothing may reach the bus")
}

func TestDeployUnprovisionedWorkspace(t *testing.T) {
	repo := &fakeRepo{workspaces: map[string]*models.Workspace{
		"acme": {Slug: "acme"},
	}}
	d := newTestDeployer(&fakeBus{}, repo, &fakeCreds{})

	err := d.DeployPipeline(context.Background(), "acme", threeStage())
	var tnr *cperrors.TenantNotReadyError
	require.ErrorAs(t, err, &tnr)
}

func TestDeployCredentialsMissing(t *testing.T) {
	d := newTestDeployer(&fakeBus{}, provisionedRepo("default"), &fakeCreds{err: secretstore.ErrNotFound})

	err := d.DeployPipeline(context.Background(), "default", threeStage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials missing for provisioned workspace")
}

func TestDeployCompileErrorSkipsBus(t *testing.T) {
	bus := &fakeBus{}
	d := newTestDeployer(bus, provisionedRepo("default"), &fakeCreds{})

	cyclic := &pipeline.Pipeline{
		Name:    "loop",
		Version: "1",
		Nodes: []pipeline.Node{
			{Name: "a", Kind: pipeline.KindProcessorWasm, DependsOn: []string{"b"}},
			{Name: "b", Kind: pipeline.KindProcessorWasm, DependsOn: []string{"a"}},
		},
	}

	err := d.DeployPipeline(context.Background(), "default", cyclic)
	require.Error(t, err)
	assert.True(t, cperrors.IsCompileError(err))
	assert.Empty(t, bus.subjects)
}

func TestDeployRetriesTimeouts(t *testing.T) {
	bus := &fakeBus{failFirst: 2}
	d := newTestDeployer(bus, provisionedRepo("default"), &fakeCreds{})

	require.NoError(t, d.DeployProviders(context.Background(), "default"))
	assert.Equal(t, 4, bus.calls, "two timeouts, then put and deploy succeed")
}

func TestDeployGivesUpAfterMaxAttempts(t *testing.T) {
	bus := &fakeBus{failFirst: 100}
	d := newTestDeployer(bus, provisionedRepo("default"), &fakeCreds{})

	err := d.DeployProviders(context.Background(), "default")
	require.Error(t, err)

	var be *cperrors.BusError
	require.ErrorAs(t, err, &be)
	assert.True(t, be.Timeout)
	assert.Equal(t, 3, bus.calls)
}

func TestDeployReconcilerRejectionIsFinal(t *testing.T) {
	bus := &fakeBus{responses: map[string][]byte{
		testAccount + ".ctl.api.model.put": []byte(`{"result":"error","message":"model invalid"}`),
	}}
	d := newTestDeployer(bus, provisionedRepo("default"), &fakeCreds{})

	err := d.DeployProviders(context.Background(), "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model invalid")
	assert.Equal(t, 1, bus.calls, "rejections are not retried")
	assert.False(t, errors.As(err, new(*cperrors.BusError)))
}
