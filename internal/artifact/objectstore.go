package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/pipestack/control-plane/internal/config"
)

// emptyPayloadHash is the SHA-256 of an empty body, required by SigV4 for
// GET requests.
var emptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// ObjectStore fetches tenant blobs from an S3-compatible store using
// AWS-V4 signed requests.
type ObjectStore struct {
	endpoint string
	region   string
	bucket   string
	creds    aws.Credentials
	signer   *v4.Signer
	client   *http.Client
}

// NewObjectStore creates an object store client.
func NewObjectStore(cfg config.ObjectStoreConfig) *ObjectStore {
	return &ObjectStore{
		endpoint: cfg.Endpoint,
		region:   cfg.Region,
		bucket:   cfg.Bucket,
		creds: aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		},
		signer: v4.NewSigner(),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads the object at key.
func (s *ObjectStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := s.signer.SignHTTP(ctx, s.creds, req, emptyPayloadHash, "s3", s.region, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("object store error (status %d) for %s: %s", resp.StatusCode, key, string(body))
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return blob, nil
}
