// Package identity models the identity records mirrored from the metering
// store and the ordered change feed that propagates their mutations.
package identity

import "context"

// Operation is the kind of mutation carried by a change event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Document carries the identity fields of a mutated metering-store record.
type Document struct {
	ExternalID     string `json:"external_id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Rank           string `json:"rank"`
	CredentialHash string `json:"credential_hash,omitempty"`
}

// ChangeEvent is one identity mutation emitted by the metering store.
// FullDocument is nil for deletes. ResumeToken identifies the stream position
// after this event; consumers persist it as their checkpoint once the event
// has been terminally handled.
type ChangeEvent struct {
	Operation    Operation `json:"operation"`
	DocumentKey  string    `json:"document_key"`
	FullDocument *Document `json:"full_document,omitempty"`
	ResumeToken  string    `json:"resume_token,omitempty"`
}

// Feed is an ordered stream of identity change events. Delivery is
// at-least-once: consumers must tolerate replays of already-applied events.
type Feed interface {
	// Next blocks until the next event is available, the context is canceled,
	// or the feed is closed.
	Next(ctx context.Context) (*ChangeEvent, error)

	// Close releases the underlying stream.
	Close(ctx context.Context) error
}
