package pushchannel

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const notificationSchemaURL = "https://fieldops.local/schemas/notification.json"

const notificationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"subject": {"type": "string"},
		"message": {"type": "string"},
		"type": {"type": "string"},
		"read": {"type": "boolean"},
		"createdAt": {"type": "string"},
		"data": {
			"type": ["object", "null"],
			"properties": {
				"relatedTask": {"type": ["string", "object", "null"]},
				"relatedInvoice": {"type": ["string", "object", "null"]},
				"siteId": {"type": ["string", "object", "null"]}
			}
		}
	}
}`

func compileNotificationSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(notificationSchema))
	if err != nil {
		return nil, fmt.Errorf("decode notification schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(notificationSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add notification schema: %w", err)
	}
	return c.Compile(notificationSchemaURL)
}

func validatePayload(schema *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}
