package artifact

import "fmt"

// ObjectKey returns the deterministic object store key for a processor
// node's signed Wasm blob.
func ObjectKey(workspace, pipelineName, version, node string) string {
	return fmt.Sprintf("%s/pipeline/%s/%s/nodes/processor/wasm/%s.wasm",
		workspace, pipelineName, version, node)
}

// ImageRef returns the deterministic OCI reference a node's component is
// published under. The tag is fixed; redeploys are distinguished by the
// pipeline version in the repository path.
func ImageRef(registry, workspace, pipelineName, version, node string) string {
	return fmt.Sprintf("%s/%s/pipeline/%s/%s/%s:1.0.0",
		registry, workspace, pipelineName, version, node)
}
