package model

import "go.mongodb.org/mongo-driver/bson"

// MustMarshal marshals v to raw BSON. Response documents are built from
// in-process types, so a marshal failure is a programming error.
func MustMarshal(v any) bson.Raw {
	data, err := bson.Marshal(v)
	if err != nil {
		panic("model: marshal response: " + err.Error())
	}
	return data
}

// ErrorDoc builds a failure response. Every failed request answers with a
// document of this shape; fields optionally names the missing envelope
// fields for schema errors.
func ErrorDoc(msg string, fields ...string) bson.Raw {
	doc := bson.D{{Key: "error", Value: msg}}
	if len(fields) > 0 {
		arr := make(bson.A, 0, len(fields))
		for _, f := range fields {
			arr = append(arr, f)
		}
		doc = append(doc, bson.E{Key: "fields", Value: arr})
	}
	return MustMarshal(doc)
}
