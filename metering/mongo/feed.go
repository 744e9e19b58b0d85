package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/progression"
	"github.com/xraph/progression/identity"
)

// ChangeFeed adapts a MongoDB change stream over the users collection to the
// identity.Feed contract. Resume tokens are surfaced as extended-JSON strings
// so consumers can checkpoint them in the gamification store.
type ChangeFeed struct {
	cs *mongo.ChangeStream
}

var _ identity.Feed = (*ChangeFeed)(nil)

// ChangeFeed opens the identity change feed. resumeToken, when non-empty, is a
// previously checkpointed token; the stream resumes after that position.
func (s *Store) ChangeFeed(ctx context.Context, resumeToken string) (*ChangeFeed, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	if resumeToken != "" {
		var tok bson.Raw
		if err := bson.UnmarshalExtJSON([]byte(resumeToken), true, &tok); err != nil {
			return nil, fmt.Errorf("progression/mongo: decode resume token: %w", err)
		}
		opts.SetResumeAfter(tok)
	}

	cs, err := s.db.Collection(colUsers).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("progression/mongo: open change feed: %w", err)
	}

	return &ChangeFeed{cs: cs}, nil
}

// Next blocks until the next identity mutation, the context is canceled, or
// the stream closes.
func (f *ChangeFeed) Next(ctx context.Context) (*identity.ChangeEvent, error) {
	if !f.cs.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.cs.Err(); err != nil {
			return nil, fmt.Errorf("progression/mongo: change feed: %w", err)
		}
		return nil, progression.ErrFeedClosed
	}

	var raw struct {
		OperationType string   `bson:"operationType"`
		DocumentKey   bson.Raw `bson:"documentKey"`
		FullDocument  bson.Raw `bson:"fullDocument"`
	}
	if err := f.cs.Decode(&raw); err != nil {
		return nil, fmt.Errorf("progression/mongo: decode change event: %w", err)
	}

	ev := &identity.ChangeEvent{
		DocumentKey: documentKeyString(raw.DocumentKey),
		ResumeToken: f.cs.ResumeToken().String(),
	}

	switch raw.OperationType {
	case "insert":
		ev.Operation = identity.OpInsert
	case "update", "replace":
		ev.Operation = identity.OpUpdate
	case "delete":
		ev.Operation = identity.OpDelete
	default:
		// Surface unknown operations as-is; the processor logs and skips them.
		ev.Operation = identity.Operation(raw.OperationType)
	}

	if len(raw.FullDocument) > 0 {
		var u userModel
		if err := bson.Unmarshal(raw.FullDocument, &u); err != nil {
			return nil, fmt.Errorf("progression/mongo: decode change document: %w", err)
		}
		doc := &identity.Document{
			ExternalID:     u.ExternalID,
			Email:          u.Email,
			Name:           u.Name,
			Rank:           u.Rank,
			CredentialHash: u.CredentialHash,
		}
		if doc.ExternalID == "" {
			doc.ExternalID = ev.DocumentKey
		}
		ev.FullDocument = doc
	}

	return ev, nil
}

// Close releases the underlying change stream.
func (f *ChangeFeed) Close(ctx context.Context) error {
	return f.cs.Close(ctx)
}

// documentKeyString extracts the _id from a change event's documentKey as a
// string, whatever its BSON type.
func documentKeyString(key bson.Raw) string {
	val, err := key.LookupErr("_id")
	if err != nil {
		return ""
	}

	switch val.Type {
	case bson.TypeString:
		if s, ok := val.StringValueOK(); ok {
			return s
		}
	case bson.TypeObjectID:
		if oid, ok := val.ObjectIDOK(); ok {
			return oid.Hex()
		}
	}
	return val.String()
}
