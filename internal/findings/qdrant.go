package findings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/qdrant/go-client/qdrant"
)

const qdrantCollection = "brainstormd-findings"

type qdrantBackend struct {
	mu        sync.RWMutex
	client    *qdrant.Client
	embFunc   chromem.EmbeddingFunc
	logger    *log.Logger
	vectorDim uint64
}

// qdrantPayload is what gets JSON-encoded into each point's payload field,
// since qdrant itself only stores flat scalar/struct values well.
type qdrantPayload struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// NewQdrantBackend connects to a remote Qdrant instance and ensures the
// findings collection exists, mirroring the teacher's NewQdrantVectorStore.
func NewQdrantBackend(host string, port int, apiKey string, useTLS bool, vectorDim int, embFunc chromem.EmbeddingFunc, logger *log.Logger) (Backend, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if vectorDim == 0 {
		vectorDim = 768
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: apiKey, UseTLS: useTLS})
	if err != nil {
		return nil, fmt.Errorf("findings: connect to qdrant: %w", err)
	}

	b := &qdrantBackend{client: client, embFunc: embFunc, logger: logger, vectorDim: uint64(vectorDim)}

	collections, err := client.ListCollections(context.Background())
	if err != nil {
		return nil, fmt.Errorf("findings: list qdrant collections: %w", err)
	}
	exists := false
	for _, name := range collections {
		if name == qdrantCollection {
			exists = true
			break
		}
	}
	if !exists {
		err = client.CreateCollection(context.Background(), &qdrant.CreateCollection{
			CollectionName: qdrantCollection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     b.vectorDim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("findings: create qdrant collection: %w", err)
		}
	}
	logger.Printf("findings: qdrant backend at %s:%d", host, port)
	return b, nil
}

func (b *qdrantBackend) AddDocuments(ctx context.Context, documents []chromem.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(documents) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(documents))
	for i, doc := range documents {
		embedding, err := b.embFunc(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("findings: embed document %q: %w", doc.ID, err)
		}
		payload := qdrantPayload{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("findings: marshal payload %q: %w", doc.ID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(hashID(doc.ID)),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: qdrant.NewValueMap(map[string]any{"payload": string(raw)}),
		}
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: qdrantCollection, Points: points})
	if err != nil {
		return fmt.Errorf("findings: upsert to qdrant: %w", err)
	}
	return nil
}

func (b *qdrantBackend) Query(ctx context.Context, queryText string, nResults int, where map[string]string) ([]chromem.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	embedding, err := b.embFunc(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("findings: embed query: %w", err)
	}

	limit := uint64(nResults)
	hits, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qdrantCollection,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("findings: query qdrant: %w", err)
	}

	results := make([]chromem.Result, 0, len(hits))
	for _, hit := range hits {
		val, ok := hit.Payload["payload"]
		if !ok {
			continue
		}
		strVal, ok := val.Kind.(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		var p qdrantPayload
		if err := json.Unmarshal([]byte(strVal.StringValue), &p); err != nil {
			continue
		}
		if !matchesWhere(p.Metadata, where) {
			continue
		}
		results = append(results, chromem.Result{ID: p.ID, Content: p.Content, Metadata: p.Metadata, Similarity: hit.Score})
	}
	return results, nil
}

func matchesWhere(metadata, where map[string]string) bool {
	for k, v := range where {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func (b *qdrantBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info, err := b.client.GetCollectionInfo(context.Background(), qdrantCollection)
	if err != nil || info.PointsCount == nil {
		return 0
	}
	return int(*info.PointsCount)
}

func (b *qdrantBackend) Close() error {
	return b.client.Close()
}

// hashID converts a string finding/question id to the uint64 point id
// Qdrant requires, matching the teacher's FNV-1a-style hashing.
func hashID(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
