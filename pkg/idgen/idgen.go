// Package idgen mints the unique identifiers attached to entries, events,
// analyses and broadcast messages.
package idgen

import "github.com/google/uuid"

// NewEntryID mints a unique identity for a LogEntry.
func NewEntryID() string { return uuid.NewString() }

// NewEventID mints a unique identity for a ParsedEvent.
func NewEventID() string { return uuid.NewString() }

// NewAnalysisID mints a unique identity for an AIAnalysis.
func NewAnalysisID() string { return uuid.NewString() }

// NewMessageID mints a unique identity for a broadcaster envelope.
func NewMessageID() string { return uuid.NewString() }
