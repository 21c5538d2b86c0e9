// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package notes

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps notes in process memory. Notes are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]Note
	// next is guarded by mu together with notes, so ids are never reused.
	next int64
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		notes: make(map[string]Note),
		now:   o.now,
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, title, content, author string) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	now := s.now().UTC()
	note := Note{
		ID:        formatID(s.next),
		Title:     title,
		Content:   content,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.notes[note.ID] = note
	return note, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	note, ok := s.notes[id]
	if !ok {
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return note, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Note, 0, len(s.notes))
	for _, note := range s.notes {
		out = append(out, note)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Note) int {
		na, _ := sequenceOf(a.ID)
		nb, _ := sequenceOf(b.ID)
		return cmp.Compare(na, nb)
	})
	return out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, id string, update Update) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.notes[id]
	if !ok {
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	update.apply(&note, s.now().UTC())
	s.notes[id] = note
	return note, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.notes[id]
	if !ok {
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.notes, id)
	return note, nil
}

// Close implements Store.
func (*MemoryStore) Close() error {
	return nil
}
