package store

import (
	"encoding/json"
	"time"
)

// Document is the latest canonical state of a document. Content holds the
// formatter output exactly as it was returned.
type Document struct {
	ID               string
	Title            string
	Content          json.RawMessage
	ContentHash      string
	BodyText         string
	FormatterVersion string
	UpdatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentVersion is an immutable snapshot row pointing at a git commit.
type DocumentVersion struct {
	ID            int64
	DocumentID    string
	VersionNumber int
	Title         string
	CommitHash    string
	ContentHash   string
	ChangeSummary string
	CreatedBy     string
	CreatedAt     time.Time
}

// Thread is a comment thread anchored in a document.
type Thread struct {
	ID         string
	DocumentID string
	Anchor     string
	Text       string
	Status     string
	AuthorID   string
	Author     string
	ResolvedBy string
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Reply struct {
	ID        string
	ThreadID  string
	AuthorID  string
	Author    string
	Body      string
	CreatedAt time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}
