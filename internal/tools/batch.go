package tools

import (
	"agenthive/internal/artifact"
	"agenthive/internal/logging"
)

// BatchItemError records one failed item in a batch by its originating index.
type BatchItemError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResult reports per-item outcomes for a batched operation. One failing
// item never fails the whole batch: OK is true whenever the batch itself was
// accepted, with failure visible only at item granularity.
//
// ArtifactIDs holds one reserved id per attempted item, in attempt order,
// even for failed items; Outputs lists only the successes. Downstream code
// relies on the positional correspondence between attempts and reserved ids,
// so the asymmetry is deliberate.
type BatchResult struct {
	OK           bool             `json:"ok"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	Errors       []BatchItemError `json:"errors"`
	Outputs      []any            `json:"outputs"`
	ArtifactIDs  []string         `json:"artifact_ids"`
}

// BatchFunc processes one item. reservedID is the output slot pre-allocated
// for this attempt; on success the function returns the item's result entry
// (typically referencing that id).
type BatchFunc func(index int, reservedID string) (any, error)

// RunBatch reserves one output slot per item, runs fn for each, and collects
// per-item outcomes. fn errors are recorded by index and never abort the
// remaining items.
func RunBatch(store artifact.Store, count int, ext string, fn BatchFunc) BatchResult {
	res := BatchResult{
		OK:      true,
		Errors:  []BatchItemError{},
		Outputs: []any{},
	}

	for i := 0; i < count; i++ {
		ref, err := store.Reserve(ext)
		if err != nil {
			// A failed reservation still consumes the attempt's position.
			res.ArtifactIDs = append(res.ArtifactIDs, "")
			res.FailureCount++
			res.Errors = append(res.Errors, BatchItemError{Index: i, Reason: err.Error()})
			continue
		}
		res.ArtifactIDs = append(res.ArtifactIDs, ref.ID)

		out, err := fn(i, ref.ID)
		if err != nil {
			res.FailureCount++
			res.Errors = append(res.Errors, BatchItemError{Index: i, Reason: err.Error()})
			continue
		}
		res.SuccessCount++
		res.Outputs = append(res.Outputs, out)
	}

	logging.ToolsDebug("RunBatch: %d items, %d ok, %d failed", count, res.SuccessCount, res.FailureCount)
	return res
}
