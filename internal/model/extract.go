package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Typed field extractors over raw documents. Each returns the value and
// whether the field was present with the expected type; a present field of
// the wrong type reads as absent.

// LookupString extracts a string field.
func LookupString(doc bson.Raw, key string) (string, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return "", false
	}
	return v.StringValueOK()
}

// LookupBool extracts a boolean field.
func LookupBool(doc bson.Raw, key string) (bool, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return false, false
	}
	return v.BooleanOK()
}

// LookupInt32 extracts an int32 field.
func LookupInt32(doc bson.Raw, key string) (int32, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return 0, false
	}
	return v.Int32OK()
}

// LookupInt64 extracts an int64 field, accepting int32 widening.
func LookupInt64(doc bson.Raw, key string) (int64, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return 0, false
	}
	if i, ok := v.Int64OK(); ok {
		return i, true
	}
	if i, ok := v.Int32OK(); ok {
		return int64(i), true
	}
	return 0, false
}

// LookupDouble extracts a double field.
func LookupDouble(doc bson.Raw, key string) (float64, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return 0, false
	}
	return v.DoubleOK()
}

// LookupTime extracts a UTC datetime field.
func LookupTime(doc bson.Raw, key string) (time.Time, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return time.Time{}, false
	}
	if dt, ok := v.DateTimeOK(); ok {
		return time.UnixMilli(dt).UTC(), true
	}
	return time.Time{}, false
}

// LookupObjectID extracts an ObjectID field.
func LookupObjectID(doc bson.Raw, key string) (primitive.ObjectID, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return v.ObjectIDOK()
}

// LookupDocument extracts an embedded document field.
func LookupDocument(doc bson.Raw, key string) (bson.Raw, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return nil, false
	}
	return v.DocumentOK()
}

// LookupArray extracts an array field as raw bytes.
func LookupArray(doc bson.Raw, key string) (bson.Raw, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return nil, false
	}
	arr, ok := v.ArrayOK()
	return bson.Raw(arr), ok
}

// LookupRawValue extracts a field of any type.
func LookupRawValue(doc bson.Raw, key string) (bson.RawValue, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return bson.RawValue{}, false
	}
	return v, true
}

// ArrayValues expands a raw array into its element values in order.
func ArrayValues(arr bson.Raw) ([]bson.RawValue, error) {
	elems, err := arr.Elements()
	if err != nil {
		return nil, err
	}
	vals := make([]bson.RawValue, 0, len(elems))
	for _, e := range elems {
		vals = append(vals, e.Value())
	}
	return vals, nil
}
