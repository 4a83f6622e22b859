package broker

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

func (d *Dispatcher) handleCount(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	coll := sess.Collection(env.Database, env.Collection)
	count, err := coll.CountDocuments(ctx, env.Document, countOptionsFrom(env.Options))
	if err != nil {
		logger.Error("count failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}
	return respond(bson.D{{Key: "count", Value: count}})
}

func (d *Dispatcher) handleDistinct(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	field, ok := model.LookupString(env.Document, "field")
	if !ok {
		return fail(MsgMissingFields, "field")
	}
	filter, _ := model.LookupDocument(env.Document, "filter")
	if filter == nil {
		filter = emptyFilter()
	}

	coll := sess.Collection(env.Database, env.Collection)
	values, err := coll.Distinct(ctx, field, filter)
	if err != nil {
		logger.Error("distinct failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}

	arr := make(bson.A, 0, len(values))
	for _, v := range values {
		arr = append(arr, v)
	}
	return respond(bson.D{{Key: "values", Value: arr}})
}

func (d *Dispatcher) handlePipeline(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	spec, ok := model.LookupArray(env.Document, "specification")
	if !ok {
		return fail(MsgMissingFields, "specification")
	}

	stageValues, err := model.ArrayValues(spec)
	if err != nil {
		return fail(MsgUnexpectedError)
	}
	stages := make(bson.A, 0, len(stageValues))
	for _, v := range stageValues {
		stage, isDoc := v.DocumentOK()
		if !isDoc {
			return fail(MsgUnexpectedError)
		}
		stages = append(stages, stage)
	}

	coll := sess.Collection(env.Database, env.Collection)
	docs, err := coll.Aggregate(ctx, stages)
	if err != nil {
		logger.Error("pipeline failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}
	results := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		results = append(results, doc)
	}
	return respond(bson.D{{Key: "results", Value: results}})
}

func emptyFilter() bson.Raw {
	return model.MustMarshal(bson.D{})
}
