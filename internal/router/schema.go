package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"classhub/pkg/types"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"type": "string", "minLength": 1, "maxLength": 64},
    "data": {"type": ["object", "null"]},
    "timestamp": {"type": "number", "minimum": 0},
    "messageId": {"type": "string", "maxLength": 128},
    "targetIds": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

var envelopeSchemaOnce struct {
	once    sync.Once
	schema  *jsonschema.Schema
	initErr error
}

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.once.Do(func() {
		envelopeSchemaOnce.schema, envelopeSchemaOnce.initErr = jsonschema.CompileString("envelope.json", envelopeSchema)
	})
	return envelopeSchemaOnce.schema, envelopeSchemaOnce.initErr
}

// Decode parses and shape-checks one inbound frame. Every failure wraps
// types.ErrMalformedEnvelope. Unknown kinds are not rejected here.
func Decode(raw []byte) (*types.Envelope, error) {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedEnvelope, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedEnvelope, err)
	}

	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedEnvelope, err)
	}
	return &env, nil
}
