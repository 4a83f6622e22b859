package broker

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/model"
)

// Failure messages. Every failed request answers with {error: <message>}
// plus an optional fields array; connections survive all of them except
// oversized frames, which the server closes after responding.
const (
	MsgNotBSON             = "Payload not BSON"
	MsgMissingFields       = "Missing required fields"
	MsgInvalidAction       = "Invalid action"
	MsgMissingID           = "Missing _id field"
	MsgInsertError         = "Unable to insert document"
	MsgInvalidUpdate       = "Invalid update document"
	MsgUpdateError         = "Unable to update document"
	MsgCreateVersionFailed = "Unable to create version document"
	MsgNotFound            = "Document not found"
	MsgPayloadTooLarge     = "Payload too large"
	MsgPoolExhausted       = "No database session available"
	MsgTransactionError    = "Transaction aborted"
	MsgUnexpectedError     = "Unexpected error"
)

func fail(msg string, fields ...string) bson.Raw {
	return model.ErrorDoc(msg, fields...)
}

func respond(doc bson.D) bson.Raw {
	return model.MustMarshal(doc)
}
