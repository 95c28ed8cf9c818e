package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// chatRequestSchema validates chat bodies. Empty messages pass here since
// they are valid on the debounced path.
const chatRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["message", "user_id"],
  "properties": {
    "message": {
      "type": "string"
    },
    "user_id": {
      "type": "string",
      "minLength": 1
    },
    "session_id": {
      "type": "string",
      "minLength": 1
    },
    "timeout": {
      "type": "number",
      "exclusiveMinimum": 0
    },
    "enable_debounce": {
      "type": "boolean"
    },
    "debounce_window": {
      "type": "number",
      "exclusiveMinimum": 0
    },
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var chatSchemaLoader = gojsonschema.NewStringLoader(chatRequestSchema)

// validateChatBody checks a raw request body against chatRequestSchema
func validateChatBody(body []byte) error {
	result, err := gojsonschema.Validate(chatSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("invalid request body: %s", strings.Join(messages, "; "))
	}

	return nil
}
