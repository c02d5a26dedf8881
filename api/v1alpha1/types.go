// Package v1alpha1 holds the wire types and gRPC service description of
// the graph rewrite service. Messages are encoded as JSON.
package v1alpha1

// RewriteRequest carries the graphs of one model as encoded descriptors.
type RewriteRequest struct {
	FrozenGraph string `json:"frozenGraph"`
	// PreProcessingGraph and PostProcessingGraph are optional; an empty
	// donor splices as a no-op.
	PreProcessingGraph  string   `json:"preProcessingGraph,omitempty"`
	PostProcessingGraph string   `json:"postProcessingGraph,omitempty"`
	Inputs              []string `json:"inputs"`
	Outputs             []string `json:"outputs"`

	SkipProcessing bool            `json:"skipProcessing,omitempty"`
	Options        *RewriteOptions `json:"options,omitempty"`
}

type RewriteOptions struct {
	InitializerRoots []string `json:"initializerRoots,omitempty"`
	PassthroughOps   []string `json:"passthroughOps,omitempty"`
	MaxIterations    int      `json:"maxIterations,omitempty"`
}

type RewriteResponse struct {
	Graph string `json:"graph"`
	// Digest is set when the server exported the graph to its blobstore.
	Digest string  `json:"digest,omitempty"`
	Report *Report `json:"report"`
}

type Report struct {
	RunID       string       `json:"runID"`
	NodesBefore int          `json:"nodesBefore"`
	NodesAfter  int          `json:"nodesAfter"`
	Passes      []PassReport `json:"passes,omitempty"`
	FoldErrors  []string     `json:"foldErrors,omitempty"`
}

type PassReport struct {
	Stage          string `json:"stage"`
	Pass           string `json:"pass"`
	Iterations     int    `json:"iterations"`
	NodesBefore    int    `json:"nodesBefore"`
	NodesAfter     int    `json:"nodesAfter"`
	Rewrites       int    `json:"rewrites"`
	DurationMillis int64  `json:"durationMillis"`
}
