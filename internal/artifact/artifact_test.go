package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/pipeline"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey("default", "mine", "1", "processor-wasm_18")
	assert.Equal(t, "default/pipeline/mine/1/nodes/processor/wasm/processor-wasm_18.wasm", key)
}

func TestImageRef(t *testing.T) {
	ref := ImageRef("registry.local:5000", "default", "mine", "1", "processor-wasm_18")
	assert.Equal(t, "registry.local:5000/default/pipeline/mine/1/processor-wasm_18:1.0.0", ref)
}

func TestObjectStoreFetch(t *testing.T) {
	blob := []byte("\x00asm fake module")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/artifacts/default/pipeline/mine/1/nodes/processor/wasm/p.wasm", r.URL.Path)

		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256"), "request not SigV4 signed: %q", auth)
		assert.Contains(t, auth, "/eu-west-1/s3/aws4_request")
		assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))

		w.Write(blob)
	}))
	defer ts.Close()

	store := NewObjectStore(config.ObjectStoreConfig{
		Endpoint:  ts.URL,
		Region:    "eu-west-1",
		Bucket:    "artifacts",
		AccessKey: "minio",
		SecretKey: "minio123",
	})

	got, err := store.Fetch(context.Background(), ObjectKey("default", "mine", "1", "p"))
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestObjectStoreFetchMissing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "NoSuchKey", http.StatusNotFound)
	}))
	defer ts.Close()

	store := NewObjectStore(config.ObjectStoreConfig{
		Endpoint: ts.URL,
		Region:   "eu-west-1",
		Bucket:   "artifacts",
	})

	_, err := store.Fetch(context.Background(), "default/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

// fakeFetcher serves blobs by object key.
type fakeFetcher struct {
	blobs map[string][]byte
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	b, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no blob for %s", key)
	}
	return b, nil
}

func testPipeline(nodes ...pipeline.Node) *pipeline.Pipeline {
	return &pipeline.Pipeline{Name: "mine", Version: "1", Nodes: nodes}
}

func newTestPublisher(t *testing.T, store BlobFetcher) (*Publisher, string) {
	t.Helper()
	ts := httptest.NewServer(registry.New())
	t.Cleanup(ts.Close)
	host := strings.TrimPrefix(ts.URL, "http://")

	pb := NewPublisher(store, config.RegistryConfig{URL: host, Insecure: true}, slog.Default())
	return pb, host
}

func TestPublish(t *testing.T) {
	key := ObjectKey("default", "mine", "1", "processor-wasm_18")
	store := &fakeFetcher{blobs: map[string][]byte{key: []byte("\x00asm")}}
	pb, _ := newTestPublisher(t, store)

	p := testPipeline(
		pipeline.Node{Name: "in-http-webhook_17", Kind: pipeline.KindInHTTPWebhook},
		pipeline.Node{Name: "processor-wasm_18", Kind: pipeline.KindProcessorWasm, DependsOn: []string{"in-http-webhook_17"}},
		pipeline.Node{Name: "out-log_19", Kind: pipeline.KindOutLog, DependsOn: []string{"processor-wasm_18"}},
	)

	require.NoError(t, pb.Publish(context.Background(), "default", p))
}

func TestPublishNoProcessorsIsNoop(t *testing.T) {
	// No registry behind this URL; a pipeline without processors must not
	// even probe it.
	pb := NewPublisher(&fakeFetcher{}, config.RegistryConfig{URL: "127.0.0.1:1", Insecure: true}, slog.Default())

	p := testPipeline(
		pipeline.Node{Name: "in-http-webhook_17", Kind: pipeline.KindInHTTPWebhook},
		pipeline.Node{Name: "out-log_19", Kind: pipeline.KindOutLog, DependsOn: []string{"in-http-webhook_17"}},
	)

	assert.NoError(t, pb.Publish(context.Background(), "default", p))
}

func TestPublishRegistryUnreachable(t *testing.T) {
	pb := NewPublisher(&fakeFetcher{}, config.RegistryConfig{URL: "127.0.0.1:1", Insecure: true}, slog.Default())

	p := testPipeline(pipeline.Node{Name: "processor-wasm_18", Kind: pipeline.KindProcessorWasm})

	err := pb.Publish(context.Background(), "default", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry unavailable")
}

func TestPublishCollectsNodeFailures(t *testing.T) {
	goodKey := ObjectKey("default", "mine", "1", "processor-wasm_18")
	store := &fakeFetcher{
		blobs: map[string][]byte{goodKey: []byte("\x00asm")},
		errs: map[string]error{
			ObjectKey("default", "mine", "1", "processor-wasm_20"): errors.New("blob gone"),
			ObjectKey("default", "mine", "1", "processor-wasm_21"): errors.New("blob gone"),
		},
	}
	pb, _ := newTestPublisher(t, store)

	p := testPipeline(
		pipeline.Node{Name: "processor-wasm_21", Kind: pipeline.KindProcessorWasm},
		pipeline.Node{Name: "processor-wasm_18", Kind: pipeline.KindProcessorWasm},
		pipeline.Node{Name: "processor-wasm_20", Kind: pipeline.KindProcessorWasm},
	)

	err := pb.Publish(context.Background(), "default", p)
	require.Error(t, err)

	var fails cperrors.NodeErrors
	require.ErrorAs(t, err, &fails)
	require.Len(t, fails, 2)

	// Failures come back sorted by node name with the failing stage named.
	assert.Equal(t, "processor-wasm_20", fails[0].Node)
	assert.Equal(t, "fetch", fails[0].Op)
	assert.Equal(t, "processor-wasm_21", fails[1].Node)
	assert.Equal(t, "fetch", fails[1].Op)
}
