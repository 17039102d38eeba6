package main

// local.go provides filesystem and in-memory backends so the CLI can run
// the generation pipeline without AWS. Images land in the output directory
// and record state lives for the life of the process.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fpang/ai-storybook-studio/internal/store"
)

// localUserID is the fixed partition for CLI runs; record state is
// in-memory so the value only has to be a valid-looking ID.
const localUserID = "00000000-0000-0000-0000-000000000001"

// fileAssets writes generated artwork into a local directory.
type fileAssets struct {
	dir string
}

func (f *fileAssets) UploadPageImage(ctx context.Context, bookID string, pageIndex int, data []byte, mimeType string) (string, error) {
	return f.write(fmt.Sprintf("page-%02d.png", pageIndex+1), data)
}

func (f *fileAssets) UploadCoverImage(ctx context.Context, bookID string, data []byte, mimeType string) (string, error) {
	return f.write("cover.png", data)
}

func (f *fileAssets) write(name string, data []byte) (string, error) {
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// memStore is an in-memory record store with the same conditional
// transition semantics as the DynamoDB store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*store.BookRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*store.BookRecord)}
}

func (m *memStore) GetBook(ctx context.Context, userID, bookID string) (*store.BookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[bookID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *memStore) PutBook(ctx context.Context, userID string, book *store.BookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *book
	m.records[book.ID] = &copied
	return nil
}

func (m *memStore) TransitionStatus(ctx context.Context, userID, bookID, to string, allowedFrom ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[bookID]
	if !ok {
		return fmt.Errorf("book %s not found", bookID)
	}
	for _, from := range allowedFrom {
		if record.Status == from {
			record.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: book %s is %s", store.ErrStatusConflict, bookID, record.Status)
}

func (m *memStore) UpdateProgress(ctx context.Context, userID, bookID string, p store.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[bookID]; ok {
		record.Progress = p
	}
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, userID, bookID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[bookID]; ok {
		record.Status = store.StatusFailed
		record.Error = errMsg
	}
	return nil
}

func (m *memStore) LinkOrder(ctx context.Context, userID, bookID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[bookID]; ok {
		record.OrderID = orderID
	}
	return nil
}
