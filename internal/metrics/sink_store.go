package metrics

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// StoreSink appends metric batches to a collection in the backing store.
// Batches are fire-and-forget: the insert uses an unacknowledged write
// concern so telemetry never competes with user traffic for round trips.
type StoreSink struct {
	sess     store.Session
	location model.Location
}

// NewStoreSink opens a dedicated session for the sink. The session stays out
// of the broker pool: the drain worker is its only user.
func NewStoreSink(ctx context.Context, st store.Store, location model.Location) (*StoreSink, error) {
	sess, err := st.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("metrics sink session: %w", err)
	}
	return &StoreSink{sess: sess, location: location}, nil
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, batch []*model.Metric) error {
	docs := make([]any, 0, len(batch))
	for _, m := range batch {
		docs = append(docs, m)
	}
	w := 0
	_, err := s.sess.Collection(s.location.Database, s.location.Collection).
		InsertMany(ctx, docs, &store.InsertOptions{
			WriteConcern: &store.WriteConcern{W: w},
		})
	if err != nil {
		return fmt.Errorf("metrics insert: %w", err)
	}
	return nil
}

// EnsureIndexes creates the timestamp index read paths depend on. Safe to
// call on every startup.
func (s *StoreSink) EnsureIndexes(ctx context.Context) error {
	coll := s.sess.Collection(s.location.Database, s.location.Collection)
	keys := bson.D{{Key: "timestamp", Value: int32(1)}}
	if _, err := coll.CreateIndex(ctx, keys, nil); err != nil {
		return fmt.Errorf("metrics index: %w", err)
	}
	return nil
}

func (s *StoreSink) Close() error {
	s.sess.Close()
	return nil
}
