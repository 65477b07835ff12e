package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

type staleListerFake struct {
	mu   sync.Mutex
	docs []domain.Document
	err  error

	lastOlderThan time.Time
	lastLimit     int
}

func (f *staleListerFake) ListStaleUnprocessed(_ domain.Context, olderThan time.Time, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOlderThan, f.lastLimit = olderThan, limit
	return f.docs, f.err
}

type queueFake struct {
	mu       sync.Mutex
	enqueued []domain.ExtractTaskPayload
	errFor   map[string]error
}

func (f *queueFake) EnqueueExtract(_ domain.Context, p domain.ExtractTaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[p.DocumentID]; err != nil {
		return "", err
	}
	f.enqueued = append(f.enqueued, p)
	return p.DocumentID, nil
}

func (f *queueFake) payloads() []domain.ExtractTaskPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ExtractTaskPayload, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}

func TestNewStuckDocumentSweeper_NilDeps(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewStuckDocumentSweeper(nil, &queueFake{}, 0, 0))
	assert.Nil(t, NewStuckDocumentSweeper(&staleListerFake{}, nil, 0, 0))
	assert.NotNil(t, NewStuckDocumentSweeper(&staleListerFake{}, &queueFake{}, 0, 0))
}

func TestStuckDocumentSweeper_RequeuesStaleDocuments(t *testing.T) {
	t.Parallel()
	lister := &staleListerFake{docs: []domain.Document{
		{ID: "doc-1", BusinessID: "biz-1", Category: domain.CategorySalesInvoice},
		{ID: "doc-2", BusinessID: "biz-2", Category: domain.CategoryPurchaseReceipt},
	}}
	queue := &queueFake{}
	sw := NewStuckDocumentSweeper(lister, queue, 3*time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sw.Run(ctx) // initial sweep happens before the first tick

	got := queue.payloads()
	require.Len(t, got, 2)
	assert.Equal(t, "doc-1", got[0].DocumentID)
	assert.Equal(t, domain.CategoryPurchaseReceipt, got[1].Category)
	assert.Equal(t, 100, lister.lastLimit)
	assert.WithinDuration(t, time.Now().Add(-3*time.Minute), lister.lastOlderThan, 5*time.Second)
}

func TestStuckDocumentSweeper_EnqueueFailureSkipsDocument(t *testing.T) {
	t.Parallel()
	lister := &staleListerFake{docs: []domain.Document{
		{ID: "doc-1", BusinessID: "biz-1"},
		{ID: "doc-2", BusinessID: "biz-1"},
	}}
	queue := &queueFake{errFor: map[string]error{"doc-1": errors.New("broker down")}}
	sw := NewStuckDocumentSweeper(lister, queue, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sw.Run(ctx)

	got := queue.payloads()
	require.Len(t, got, 1)
	assert.Equal(t, "doc-2", got[0].DocumentID)
}

func TestStuckDocumentSweeper_ListErrorIsNonFatal(t *testing.T) {
	t.Parallel()
	lister := &staleListerFake{err: errors.New("db down")}
	sw := NewStuckDocumentSweeper(lister, &queueFake{}, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sw.Run(ctx)
}
