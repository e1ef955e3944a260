package model

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed camera_event.schema.json
var cameraEventSchemaJSON []byte

var cameraEventSchema = mustCompileEventSchema()

func mustCompileEventSchema() *jsonschema.Schema {
	const url = "camera_event.schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(cameraEventSchemaJSON)); err != nil {
		panic(fmt.Sprintf("event schema resource: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("event schema compile: %v", err))
	}
	return s
}

// ParseCameraEvent validates raw JSON against the event schema and decodes
// it. Schema failure and typed validation failure are both hard rejects;
// nothing is coerced.
func ParseCameraEvent(raw []byte) (*CameraEvent, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := cameraEventSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var evt CameraEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	evt.TS = evt.TS.UTC()
	return &evt, nil
}

// ParseTS parses an ISO-8601 timestamp as ingested on the wire.
func ParseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad ts %q", ErrInvalidEvent, s)
	}
	return t.UTC(), nil
}
