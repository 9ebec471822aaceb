package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "https://relreg.schemas.local/ledger/"

const releaseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["packageId", "version", "contentHash", "status", "publisher", "publishedAt"],
  "properties": {
    "packageId":   {"type": "string", "minLength": 1},
    "version":     {"type": "string", "minLength": 1},
    "contentHash": {"type": "string", "pattern": "^[a-f0-9]{64}$"},
    "status":      {"enum": ["ACTIVE", "DISCONTINUED"]},
    "publisher":   {"type": "string"},
    "publishedAt": {"type": "string"},
    "discontinuedAt": {"type": "string"}
  }
}`

const releaseListSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["releases"],
  "properties": {
    "releases": {"type": "array", "items": {"$ref": "release.schema.json"}}
  }
}`

const validateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["valid"],
  "properties": {"valid": {"type": "boolean"}}
}`

const historySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["entries"],
  "properties": {
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["sequence", "action", "status", "contentHash", "prevHash", "entryHash"]
      }
    }
  }
}`

// responseSchemas validates gateway responses before they are trusted.
type responseSchemas struct {
	release  *jsonschema.Schema
	list     *jsonschema.Schema
	validate *jsonschema.Schema
	history  *jsonschema.Schema
}

func compileResponseSchemas() (*responseSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	resources := map[string]string{
		"release.schema.json":  releaseSchema,
		"releases.schema.json": releaseListSchema,
		"validate.schema.json": validateSchema,
		"history.schema.json":  historySchema,
	}
	for name, src := range resources {
		if err := c.AddResource(schemaBase+name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("ledger schema load failed: %w", err)
		}
	}

	compile := func(name string) (*jsonschema.Schema, error) {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("ledger schema compile failed: %w", err)
		}
		return s, nil
	}

	var (
		out responseSchemas
		err error
	)
	if out.release, err = compile("release.schema.json"); err != nil {
		return nil, err
	}
	if out.list, err = compile("releases.schema.json"); err != nil {
		return nil, err
	}
	if out.validate, err = compile("validate.schema.json"); err != nil {
		return nil, err
	}
	if out.history, err = compile("history.schema.json"); err != nil {
		return nil, err
	}
	return &out, nil
}

// decodeChecked validates body against schema and then decodes it into dst.
func decodeChecked(schema *jsonschema.Schema, body []byte, dst interface{}) error {
	var generic interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("ledger response is not JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("ledger response failed schema validation: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("ledger response decode failed: %w", err)
	}
	return nil
}
