package docs

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/aryanshm/foliage/internal/errs"
)

// recordSchema constrains what the replicated store may hand us. Records
// come from an untrusted, eventually-consistent graph; anything off-shape
// is rejected before it reaches decryption or lineage logic.
var recordSchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "title", "content", "tags", "createdAt", "updatedAt", "isPublic"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"title": {"type": "string"},
		"content": {"type": "string"},
		"tags": {"type": "string"},
		"createdAt": {"type": "integer", "minimum": 0},
		"updatedAt": {"type": "integer", "minimum": 0},
		"isPublic": {"type": "boolean"},
		"access": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["userId", "senderEpub"],
				"properties": {
					"userId": {"type": "string", "minLength": 1},
					"encryptedDocKey": {"type": "string"},
					"senderEpub": {"type": "string", "minLength": 1}
				}
			}
		},
		"parent": {"type": "string"},
		"original": {"type": "string"}
	}
}`)

var compiledRecordSchema = mustCompileSchema(recordSchema)

func mustCompileSchema(definition []byte) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(definition))
	if err != nil {
		panic(fmt.Sprintf("docs: invalid record schema: %v", err))
	}
	return schema
}

// parseRecord validates raw store bytes against the record schema and
// unmarshals them.
func parseRecord(value []byte) (*Record, error) {
	result, err := compiledRecordSchema.Validate(gojsonschema.NewBytesLoader(value))
	if err != nil {
		return nil, fmt.Errorf("malformed document record: %w", errs.ErrValidation)
	}
	if !result.Valid() {
		first := result.Errors()
		if len(first) > 0 {
			return nil, fmt.Errorf("document record %s: %w", first[0], errs.ErrValidation)
		}
		return nil, fmt.Errorf("document record invalid: %w", errs.ErrValidation)
	}

	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("document record: %w", errs.ErrValidation)
	}
	if rec.Access == nil {
		rec.Access = []AccessGrant{}
	}
	return &rec, nil
}
