package rewrite

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// Report summarizes one pipeline run.
type Report struct {
	RunID       string
	NodesBefore int
	NodesAfter  int
	Passes      []PassReport
	// FoldErrors holds the distinct folds that failed. They do not fail the
	// run.
	FoldErrors *multierror.Error

	seen map[string]bool
}

// PassReport records the effect of one pass within a stage. A pass iterated
// to a fixed point gets a single entry.
type PassReport struct {
	Stage       string
	Pass        string
	Iterations  int
	NodesBefore int
	NodesAfter  int
	Rewrites    int
	Duration    time.Duration
}

func newReport(runID string, nodes int) *Report {
	return &Report{
		RunID:       runID,
		NodesBefore: nodes,
		seen:        make(map[string]bool),
	}
}

func (r *Report) addFoldErrors(errs []*graph.FoldError) {
	for _, err := range errs {
		key := err.Pass + "\x00" + err.Node
		if r.seen[key] {
			continue
		}
		r.seen[key] = true
		r.FoldErrors = multierror.Append(r.FoldErrors, err)
	}
}

// FoldErrorList returns the recorded fold errors.
func (r *Report) FoldErrorList() []error {
	if r.FoldErrors == nil {
		return nil
	}
	return r.FoldErrors.WrappedErrors()
}
