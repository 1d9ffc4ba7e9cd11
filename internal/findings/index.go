package findings

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// DuplicateThreshold is the cosine-similarity cutoff above which a
// candidate follow-up question is treated as a semantic duplicate of one
// already asked in the branch (SPEC_FULL.md §4.4 expansion).
const DuplicateThreshold = 0.92

// Index is the semantic memory the probe and orchestrator consult. It
// stores two kinds of document, distinguished by the "kind" metadata field:
// "question" (branch-scoped, for duplicate avoidance) and "finding"
// (session-scoped, for cross-session recall).
type Index struct {
	backend Backend
}

// NewIndex wraps an already-constructed Backend.
func NewIndex(backend Backend) *Index {
	return &Index{backend: backend}
}

// RecordQuestion embeds and stores a question asked within a branch, so
// future candidates can be checked against it.
func (ix *Index) RecordQuestion(ctx context.Context, sessionID, branchID, questionID, text string) error {
	doc := chromem.Document{
		ID:      "question:" + questionID,
		Content: text,
		Metadata: map[string]string{
			"kind":       "question",
			"session_id": sessionID,
			"branch_id":  branchID,
		},
	}
	if err := ix.backend.AddDocuments(ctx, []chromem.Document{doc}); err != nil {
		return &EmbeddingUnavailable{Cause: err}
	}
	return nil
}

// IsDuplicateQuestion reports whether candidateText is a near-duplicate of
// any question already recorded for branchID, at cosine similarity above
// DuplicateThreshold. A failure to query (e.g. embedding backend down)
// degrades to "not a duplicate" rather than blocking the probe.
func (ix *Index) IsDuplicateQuestion(ctx context.Context, branchID, candidateText string) bool {
	results, err := ix.backend.Query(ctx, candidateText, 5, map[string]string{"kind": "question", "branch_id": branchID})
	if err != nil {
		return false
	}
	for _, r := range results {
		if r.Similarity >= DuplicateThreshold {
			return true
		}
	}
	return false
}

// RecordFinding embeds and stores a completed branch's finding for later
// cross-session recall.
func (ix *Index) RecordFinding(ctx context.Context, sessionID, branchID, scope, finding string) error {
	doc := chromem.Document{
		ID:      "finding:" + sessionID + ":" + branchID,
		Content: fmt.Sprintf("%s: %s", scope, finding),
		Metadata: map[string]string{
			"kind":       "finding",
			"session_id": sessionID,
			"branch_id":  branchID,
			"scope":      scope,
			"finding":    finding,
		},
	}
	if err := ix.backend.AddDocuments(ctx, []chromem.Document{doc}); err != nil {
		return &EmbeddingUnavailable{Cause: err}
	}
	return nil
}

// RelatedFinding is one cross-session recall hit.
type RelatedFinding struct {
	SessionID  string
	Scope      string
	Finding    string
	Similarity float32
}

// SearchRelatedFindings returns up to n prior findings whose scope is
// semantically close to query, across all sessions. Used by
// create_brainstorm's cross-session recall (SPEC_FULL.md §4.5 expansion).
func (ix *Index) SearchRelatedFindings(ctx context.Context, query string, n int) ([]RelatedFinding, error) {
	results, err := ix.backend.Query(ctx, query, n, map[string]string{"kind": "finding"})
	if err != nil {
		return nil, &EmbeddingUnavailable{Cause: err}
	}
	out := make([]RelatedFinding, 0, len(results))
	for _, r := range results {
		out = append(out, RelatedFinding{
			SessionID:  r.Metadata["session_id"],
			Scope:      r.Metadata["scope"],
			Finding:    r.Metadata["finding"],
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

func (ix *Index) Close() error {
	return ix.backend.Close()
}
