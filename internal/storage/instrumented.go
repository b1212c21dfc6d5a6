// internal/storage/instrumented.go
package storage

import (
	"context"
	"time"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
)

// instrumented records every call of the wrapped store in the storage metrics.
type instrumented struct {
	next    Documents
	metrics *metrics.Metrics
}

// WithMetrics wraps docs so each operation is counted and timed.
func WithMetrics(docs Documents, m *metrics.Metrics) Documents {
	if m == nil {
		return docs
	}
	return &instrumented{next: docs, metrics: m}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	if err == ErrNotFound {
		// a miss is an answer, not a storage failure
		err = nil
	}
	i.metrics.ObserveStorage(op, err, time.Since(start))
}

func (i *instrumented) PutDocument(ctx context.Context, collection, id string, doc any) (string, error) {
	start := time.Now()
	id, err := i.next.PutDocument(ctx, collection, id, doc)
	i.observe("put_document", start, err)
	return id, err
}

func (i *instrumented) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	start := time.Now()
	doc, err := i.next.GetDocument(ctx, collection, id)
	i.observe("get_document", start, err)
	return doc, err
}

func (i *instrumented) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	start := time.Now()
	err := i.next.UpdateDocument(ctx, collection, id, fields)
	i.observe("update_document", start, err)
	return err
}

func (i *instrumented) IncrementCounter(ctx context.Context, collection, id, field string, delta int64) error {
	start := time.Now()
	err := i.next.IncrementCounter(ctx, collection, id, field, delta)
	i.observe("increment_counter", start, err)
	return err
}

func (i *instrumented) ListDocuments(ctx context.Context, collection string, filter map[string]any) ([]Document, error) {
	start := time.Now()
	docs, err := i.next.ListDocuments(ctx, collection, filter)
	i.observe("list_documents", start, err)
	return docs, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := i.next.Ping(ctx)
	i.observe("ping", start, err)
	return err
}
