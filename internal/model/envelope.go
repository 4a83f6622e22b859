package model

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Location names a database/collection pair.
type Location struct {
	Database   string
	Collection string
}

func (l Location) String() string {
	return l.Database + "." + l.Collection
}

// Envelope is the parsed outer request document. Document, Options and
// Metadata are views into the frame buffer and stay valid only for the
// handler invocation; use Clone for anything that outlives it.
type Envelope struct {
	Action        Action
	Database      string
	Collection    string
	Document      bson.Raw
	Options       bson.Raw // optional, per-action shape
	Metadata      bson.Raw // optional, copied verbatim into version history
	CorrelationID string
	Application   string
	SkipVersion   bool
	SkipMetric    bool
}

// MissingFieldsError reports required envelope fields that were absent or of
// the wrong type.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing fields: %s", strings.Join(e.Fields, ", "))
}

// UnknownActionError reports an unrecognized action tag.
type UnknownActionError struct {
	Tag string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Tag)
}

// ParseEnvelope validates and decodes the outer request document.
func ParseEnvelope(doc bson.Raw) (*Envelope, error) {
	var missing []string

	actionTag, ok := LookupString(doc, "action")
	if !ok {
		missing = append(missing, "action")
	}
	database, ok := LookupString(doc, "database")
	if !ok {
		missing = append(missing, "database")
	}
	collection, ok := LookupString(doc, "collection")
	if !ok {
		missing = append(missing, "collection")
	}
	document, ok := LookupDocument(doc, "document")
	if !ok {
		missing = append(missing, "document")
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	action, ok := ParseAction(actionTag)
	if !ok {
		return nil, &UnknownActionError{Tag: actionTag}
	}

	env := &Envelope{
		Action:     action,
		Database:   database,
		Collection: collection,
		Document:   document,
	}
	env.Options, _ = LookupDocument(doc, "options")
	env.Metadata, _ = LookupDocument(doc, "metadata")
	env.CorrelationID, _ = LookupString(doc, "correlationId")
	env.Application, _ = LookupString(doc, "application")
	env.SkipVersion, _ = LookupBool(doc, "skipVersion")
	env.SkipMetric, _ = LookupBool(doc, "skipMetric")
	return env, nil
}

// Target returns the request's database/collection pair.
func (e *Envelope) Target() Location {
	return Location{Database: e.Database, Collection: e.Collection}
}

// Clone returns an envelope whose raw views own their own backing arrays.
// Handlers work on borrowed frame memory; anything scheduled past the request
// (async history fixups) must clone first.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Document = cloneRaw(e.Document)
	clone.Options = cloneRaw(e.Options)
	clone.Metadata = cloneRaw(e.Metadata)
	return &clone
}

func cloneRaw(r bson.Raw) bson.Raw {
	if r == nil {
		return nil
	}
	out := make(bson.Raw, len(r))
	copy(out, r)
	return out
}
