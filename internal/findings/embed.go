// Package findings is the semantic memory described in SPEC_FULL.md §2: a
// chromem-go-backed index of branch findings and previously-asked
// questions, used both for duplicate-question avoidance within a branch and
// for cross-session finding recall in create_brainstorm.
package findings

import (
	"context"
	"math"

	"github.com/philippgille/chromem-go"
	"google.golang.org/genai"
)

// EmbeddingUnavailable wraps an embedding failure so callers can degrade
// gracefully (SPEC_FULL.md §7) instead of failing the governing operation.
type EmbeddingUnavailable struct {
	Cause error
}

func (e *EmbeddingUnavailable) Error() string { return "findings: embedding unavailable: " + e.Cause.Error() }
func (e *EmbeddingUnavailable) Unwrap() error  { return e.Cause }

// normalize L2-normalizes v in place so cosine similarity reduces to a dot
// product, matching the teacher's embedder.
func normalize(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}
	magnitude := float32(math.Sqrt(sum))
	if magnitude <= 0 {
		return
	}
	for i := range v {
		v[i] /= magnitude
	}
}

// taskTypeRetrievalDocument is the Gemini embedding API's task type for
// indexed documents (as opposed to search queries).
const taskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"

// GeminiEmbedder returns a chromem.EmbeddingFunc backed by
// google.golang.org/genai's embedding endpoint.
func GeminiEmbedder(client *genai.Client, model string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
		res, err := client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
			TaskType: taskTypeRetrievalDocument,
		})
		if err != nil {
			return nil, &EmbeddingUnavailable{Cause: err}
		}
		if len(res.Embeddings) == 0 {
			return nil, &EmbeddingUnavailable{Cause: errNoEmbeddings}
		}
		vec := res.Embeddings[0].Values
		normalize(vec)
		return vec, nil
	}
}

var errNoEmbeddings = embedErr("no embeddings returned")

type embedErr string

func (e embedErr) Error() string { return string(e) }

// LocalHashEmbedder is a deterministic, dependency-free fallback embedder:
// it hashes each whitespace-separated, lowercased word into a fixed-width
// vector. It never fails, so it is what cmd/brainstormd builds the findings
// index with when no Gemini API key is configured, satisfying the graceful-degradation requirement without
// needing network access to run brainstormd or its tests.
func LocalHashEmbedder(dims int) chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		word := make([]byte, 0, 16)
		hash := func(w []byte) {
			if len(w) == 0 {
				return
			}
			var h uint32 = 2166136261
			for _, b := range w {
				h ^= uint32(b)
				h *= 16777619
			}
			vec[int(h)%dims] += 1
		}
		for i := 0; i < len(text); i++ {
			c := text[i]
			if c == ' ' || c == '\t' || c == '\n' {
				hash(word)
				word = word[:0]
				continue
			}
			word = append(word, lower(c))
		}
		hash(word)
		normalize(vec)
		return vec, nil
	}
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
