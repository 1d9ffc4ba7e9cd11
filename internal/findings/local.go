package findings

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/philippgille/chromem-go"
)

// Backend is the vector-store surface findings.Index depends on. Two
// implementations exist: localBackend (chromem-go, on-disk) and
// qdrantBackend (remote), selected by config.FindingsConfig.Backend.
type Backend interface {
	AddDocuments(ctx context.Context, documents []chromem.Document) error
	Query(ctx context.Context, queryText string, nResults int, where map[string]string) ([]chromem.Result, error)
	Count() int
	Close() error
}

type localBackend struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	embFunc    chromem.EmbeddingFunc
}

// NewLocalBackend opens (or creates) a persistent chromem-go database at
// dbPath holding a single "findings" collection.
func NewLocalBackend(dbPath string, embFunc chromem.EmbeddingFunc, logger *log.Logger) (Backend, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	db, err := chromem.NewPersistentDB(dbPath, true)
	if err != nil {
		return nil, fmt.Errorf("findings: open chromem db %q: %w", dbPath, err)
	}
	collection, err := db.GetOrCreateCollection("findings", nil, embFunc)
	if err != nil {
		return nil, fmt.Errorf("findings: create collection: %w", err)
	}
	logger.Printf("findings: local backend at %s", dbPath)
	return &localBackend{db: db, collection: collection, embFunc: embFunc}, nil
}

func (b *localBackend) AddDocuments(ctx context.Context, documents []chromem.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collection.AddDocuments(ctx, documents, 1)
}

func (b *localBackend) Query(ctx context.Context, queryText string, nResults int, where map[string]string) ([]chromem.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n := b.collection.Count(); n < nResults {
		nResults = n
	}
	if nResults == 0 {
		return nil, nil
	}
	return b.collection.Query(ctx, queryText, nResults, where, nil)
}

func (b *localBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collection.Count()
}

func (b *localBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.ExportToFile("", true, "")
}
