package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VersionRecord is the audit entry appended for every successful mutation of
// a user document (unless the request sets skipVersion). Entity carries the
// document as it stood at the moment of the write: post-state for create,
// update and replace, pre-state for delete.
type VersionRecord struct {
	ID         primitive.ObjectID `bson:"_id"`
	Database   string             `bson:"database"`
	Collection string             `bson:"collection"`
	Action     string             `bson:"action"`
	Entity     bson.Raw           `bson:"entity"`
	Created    time.Time          `bson:"created"`
	Metadata   bson.Raw           `bson:"metadata,omitempty"`
}

// Metric is the per-request telemetry record captured after a handler
// returns.
type Metric struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Action        string             `bson:"action"`
	Database      string             `bson:"database"`
	Collection    string             `bson:"collection"`
	Size          int                `bson:"size"`
	Duration      time.Duration      `bson:"duration"` // nanoseconds
	Timestamp     time.Time          `bson:"timestamp"`
	Application   string             `bson:"application,omitempty"`
	CorrelationID string             `bson:"correlationId,omitempty"`
	Message       string             `bson:"message,omitempty"`
	EntityID      string             `bson:"entityId,omitempty"`
}
