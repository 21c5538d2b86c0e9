// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package notes provides the note store behind the note tools.
package notes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// ErrNotFound is returned when no note has the requested id.
var ErrNotFound = errors.New("note not found")

// idPrefix precedes the store's counter in every note id.
const idPrefix = "note_"

// Note is a stored note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update describes a partial note update. Nil fields are left unchanged.
type Update struct {
	Title   *string
	Content *string
}

// apply changes n in place and stamps UpdatedAt.
func (u Update) apply(n *Note, now time.Time) {
	if u.Title != nil {
		n.Title = *u.Title
	}
	if u.Content != nil {
		n.Content = *u.Content
	}
	n.UpdatedAt = now
}

// Store persists notes. Every mutating call is atomic: it either applies in
// full or not at all, and concurrent Creates never share an id.
type Store interface {
	Create(ctx context.Context, title, content, author string) (Note, error)
	Get(ctx context.Context, id string) (Note, error)
	// List returns notes in creation order.
	List(ctx context.Context) ([]Note, error)
	Update(ctx context.Context, id string, update Update) (Note, error)
	// Delete removes the note and returns it as it was.
	Delete(ctx context.Context, id string) (Note, error)
	Close() error
}

// Option configures a Store implementation.
type Option func(*options)

type options struct {
	now       func() time.Time
	keyPrefix string
}

// WithClock sets the time source used for note timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithKeyPrefix namespaces the keys a RedisStore writes. Ignored by MemoryStore.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now, keyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func formatID(n int64) string {
	return idPrefix + strconv.FormatInt(n, 10)
}

// sequenceOf returns the counter embedded in id, or false for foreign ids.
func sequenceOf(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	return n, err == nil
}
