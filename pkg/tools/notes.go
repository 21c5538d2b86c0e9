// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/config"
	"github.com/stacklok/mcpgate/pkg/notes"
)

// DefaultAuthor is recorded on notes created by a principal without a subject.
const DefaultAuthor = "authenticated_user"

var (
	readScopes  = []string{config.ScopeReadNotes, config.ScopeWriteNotes}
	writeScopes = []string{config.ScopeWriteNotes}
)

// NoteTools returns the note tools backed by store.
func NoteTools(store notes.Store) []Tool {
	h := noteHandlers{store: store}
	return []Tool{
		{
			Name:        "create_note",
			Description: "Create a new note.",
			Scopes:      writeScopes,
			Params: []mcp.ToolOption{
				mcp.WithString("title", mcp.Required(), mcp.Description("The title of the note")),
				mcp.WithString("content", mcp.Required(), mcp.Description("The content of the note")),
			},
			Handler: h.create,
		},
		{
			Name:        "read_note",
			Description: "Read a specific note by its ID.",
			Scopes:      readScopes,
			Params: []mcp.ToolOption{
				mcp.WithString("note_id", mcp.Required(), mcp.Description("The ID of the note to read")),
			},
			Handler: h.read,
		},
		{
			Name:        "list_notes",
			Description: "List all notes.",
			Scopes:      readScopes,
			Handler:     h.list,
		},
		{
			Name:        "update_note",
			Description: "Update an existing note.",
			Scopes:      writeScopes,
			Params: []mcp.ToolOption{
				mcp.WithString("note_id", mcp.Required(), mcp.Description("The ID of the note to update")),
				mcp.WithString("title", mcp.Description("New title (optional)")),
				mcp.WithString("content", mcp.Description("New content (optional)")),
			},
			Handler: h.update,
		},
		{
			Name:        "delete_note",
			Description: "Delete a note by its ID.",
			Scopes:      writeScopes,
			Params: []mcp.ToolOption{
				mcp.WithString("note_id", mcp.Required(), mcp.Description("The ID of the note to delete")),
			},
			Handler: h.delete,
		},
	}
}

// DeleteResult is returned by delete_note.
type DeleteResult struct {
	Message     string     `json:"message"`
	DeletedNote notes.Note `json:"deleted_note"`
}

// NotFound is returned as data, not as an error, when a note id is unknown.
type NotFound struct {
	Error string `json:"error"`
}

func notFound(id string) NotFound {
	return NotFound{Error: fmt.Sprintf("Note with ID '%s' not found", id)}
}

type noteHandlers struct {
	store notes.Store
}

type noteRef struct {
	NoteID string `json:"note_id"`
}

func (r noteRef) validate() error {
	if r.NoteID == "" {
		return fmt.Errorf("%w: note_id is required", ErrInvalidArguments)
	}
	return nil
}

func authorOf(p *auth.Principal) string {
	if p == nil || p.Subject == "" {
		return DefaultAuthor
	}
	return p.Subject
}

func (h noteHandlers) create(ctx context.Context, p *auth.Principal, args Arguments) (any, error) {
	var in struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	if in.Title == nil || in.Content == nil {
		return nil, fmt.Errorf("%w: title and content are required", ErrInvalidArguments)
	}
	return h.store.Create(ctx, *in.Title, *in.Content, authorOf(p))
}

func (h noteHandlers) read(ctx context.Context, _ *auth.Principal, args Arguments) (any, error) {
	var in noteRef
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	note, err := h.store.Get(ctx, in.NoteID)
	if errors.Is(err, notes.ErrNotFound) {
		return notFound(in.NoteID), nil
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (h noteHandlers) list(ctx context.Context, _ *auth.Principal, _ Arguments) (any, error) {
	return h.store.List(ctx)
}

func (h noteHandlers) update(ctx context.Context, _ *auth.Principal, args Arguments) (any, error) {
	var in struct {
		noteRef
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	note, err := h.store.Update(ctx, in.NoteID, notes.Update{Title: in.Title, Content: in.Content})
	if errors.Is(err, notes.ErrNotFound) {
		return notFound(in.NoteID), nil
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (h noteHandlers) delete(ctx context.Context, _ *auth.Principal, args Arguments) (any, error) {
	var in noteRef
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	note, err := h.store.Delete(ctx, in.NoteID)
	if errors.Is(err, notes.ErrNotFound) {
		return notFound(in.NoteID), nil
	}
	if err != nil {
		return nil, err
	}
	return DeleteResult{
		Message:     fmt.Sprintf("Note '%s' deleted successfully", in.NoteID),
		DeletedNote: note,
	}, nil
}
