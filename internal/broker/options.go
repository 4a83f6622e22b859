package broker

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// Translation of the request's options document into store option structs.
// Unknown keys are ignored; values of the wrong type read as absent.

func findOptionsFrom(opts bson.Raw) *store.FindOptions {
	out := &store.FindOptions{}
	if opts == nil {
		return out
	}
	out.Projection, _ = model.LookupDocument(opts, "projection")
	out.Sort, _ = model.LookupDocument(opts, "sort")
	out.Hint, _ = model.LookupRawValue(opts, "hint")
	if v, ok := model.LookupInt64(opts, "limit"); ok {
		out.Limit = &v
	}
	if v, ok := model.LookupInt64(opts, "skip"); ok {
		out.Skip = &v
	}
	if v, ok := model.LookupString(opts, "comment"); ok {
		out.Comment = &v
	}
	out.Min, _ = model.LookupDocument(opts, "min")
	out.Max, _ = model.LookupDocument(opts, "max")
	out.Collation, _ = model.LookupDocument(opts, "collation")
	out.ReadPreference, _ = model.LookupString(opts, "readPreference")
	out.MaxTime = maxTimeFrom(opts)
	if v, ok := model.LookupBool(opts, "partialResults"); ok {
		out.PartialResults = &v
	}
	if v, ok := model.LookupBool(opts, "returnKey"); ok {
		out.ReturnKey = &v
	}
	if v, ok := model.LookupBool(opts, "showRecordId"); ok {
		out.ShowRecordID = &v
	}
	return out
}

func insertOptionsFrom(opts bson.Raw) *store.InsertOptions {
	out := &store.InsertOptions{}
	if opts == nil {
		return out
	}
	if v, ok := model.LookupBool(opts, "bypassValidation"); ok {
		out.BypassValidation = &v
	}
	if v, ok := model.LookupBool(opts, "ordered"); ok {
		out.Ordered = &v
	}
	out.WriteConcern = writeConcernFrom(opts)
	return out
}

func updateOptionsFrom(opts bson.Raw) *store.UpdateOptions {
	out := &store.UpdateOptions{}
	if opts == nil {
		return out
	}
	if v, ok := model.LookupBool(opts, "bypassValidation"); ok {
		out.BypassValidation = &v
	}
	out.Collation, _ = model.LookupDocument(opts, "collation")
	if v, ok := model.LookupBool(opts, "upsert"); ok {
		out.Upsert = &v
	}
	out.WriteConcern = writeConcernFrom(opts)
	return out
}

func replaceOptionsFrom(opts bson.Raw) *store.ReplaceOptions {
	u := updateOptionsFrom(opts)
	return &store.ReplaceOptions{
		BypassValidation: u.BypassValidation,
		Collation:        u.Collation,
		Upsert:           u.Upsert,
		WriteConcern:     u.WriteConcern,
	}
}

func deleteOptionsFrom(opts bson.Raw) *store.DeleteOptions {
	out := &store.DeleteOptions{}
	if opts == nil {
		return out
	}
	out.Collation, _ = model.LookupDocument(opts, "collation")
	out.WriteConcern = writeConcernFrom(opts)
	return out
}

func countOptionsFrom(opts bson.Raw) *store.CountOptions {
	out := &store.CountOptions{}
	if opts == nil {
		return out
	}
	out.Hint, _ = model.LookupRawValue(opts, "hint")
	if v, ok := model.LookupInt64(opts, "limit"); ok {
		out.Limit = &v
	}
	if v, ok := model.LookupInt64(opts, "skip"); ok {
		out.Skip = &v
	}
	out.Collation, _ = model.LookupDocument(opts, "collation")
	out.ReadPreference, _ = model.LookupString(opts, "readPreference")
	out.MaxTime = maxTimeFrom(opts)
	return out
}

func indexOptionsFrom(opts bson.Raw) *store.IndexOptions {
	out := &store.IndexOptions{}
	if opts == nil {
		return out
	}
	if v, ok := model.LookupString(opts, "name"); ok {
		out.Name = &v
	}
	if v, ok := model.LookupBool(opts, "unique"); ok {
		out.Unique = &v
	}
	if v, ok := model.LookupInt32(opts, "expireAfterSeconds"); ok {
		out.ExpireAfterSeconds = &v
	}
	out.Collation, _ = model.LookupDocument(opts, "collation")
	out.PartialFilterExpression, _ = model.LookupDocument(opts, "partialFilterExpression")
	if v, ok := model.LookupBool(opts, "sparse"); ok {
		out.Sparse = &v
	}
	if v, ok := model.LookupBool(opts, "hidden"); ok {
		out.Hidden = &v
	}
	if v, ok := model.LookupBool(opts, "background"); ok {
		out.Background = &v
	}
	return out
}

func createCollectionOptionsFrom(opts bson.Raw) *store.CreateCollectionOptions {
	out := &store.CreateCollectionOptions{}
	if opts == nil {
		return out
	}
	if v, ok := model.LookupBool(opts, "capped"); ok {
		out.Capped = &v
	}
	if v, ok := model.LookupInt64(opts, "size"); ok {
		out.SizeInBytes = &v
	}
	if v, ok := model.LookupInt64(opts, "max"); ok {
		out.MaxDocuments = &v
	}
	if ts, ok := model.LookupDocument(opts, "timeseries"); ok {
		out.Timeseries = timeseriesOptionsFrom(ts)
	}
	if v, ok := model.LookupInt64(opts, "expireAfterSeconds"); ok {
		out.ExpireAfterSeconds = &v
	}
	out.ChangeStreamPreAndPostImages, _ = model.LookupDocument(opts, "changeStreamPreAndPostImages")
	out.ClusteredIndex, _ = model.LookupDocument(opts, "clusteredIndex")
	out.Validator, _ = model.LookupDocument(opts, "validator")
	if v, ok := model.LookupString(opts, "validationLevel"); ok {
		out.ValidationLevel = &v
	}
	if v, ok := model.LookupString(opts, "validationAction"); ok {
		out.ValidationAction = &v
	}
	if v, ok := model.LookupString(opts, "viewOn"); ok {
		out.ViewOn = &v
	}
	out.Pipeline, _ = model.LookupArray(opts, "pipeline")
	out.Collation, _ = model.LookupDocument(opts, "collation")
	return out
}

func timeseriesOptionsFrom(doc bson.Raw) *store.TimeseriesOptions {
	out := &store.TimeseriesOptions{}
	out.TimeField, _ = model.LookupString(doc, "timeField")
	if v, ok := model.LookupString(doc, "metaField"); ok {
		out.MetaField = &v
	}
	if v, ok := model.LookupString(doc, "granularity"); ok {
		out.Granularity = &v
	}
	return out
}

func writeConcernFrom(opts bson.Raw) *store.WriteConcern {
	doc, ok := model.LookupDocument(opts, "writeConcern")
	if !ok {
		return nil
	}
	wc := &store.WriteConcern{}
	if w, wok := model.LookupRawValue(doc, "w"); wok {
		if s, sok := w.StringValueOK(); sok {
			wc.W = s
		} else if i, iok := w.AsInt64OK(); iok {
			wc.W = int(i)
		}
	}
	if j, jok := model.LookupBool(doc, "j"); jok {
		wc.Journal = &j
	}
	if ms, mok := model.LookupInt64(doc, "wtimeout"); mok {
		wc.WTimeout = time.Duration(ms) * time.Millisecond
	}
	if wc.W == nil && wc.Journal == nil && wc.WTimeout == 0 {
		return nil
	}
	return wc
}

// maxTimeFrom reads options.maxTime in milliseconds.
func maxTimeFrom(opts bson.Raw) *time.Duration {
	if opts == nil {
		return nil
	}
	ms, ok := model.LookupInt64(opts, "maxTime")
	if !ok || ms <= 0 {
		return nil
	}
	d := time.Duration(ms) * time.Millisecond
	return &d
}
