package bridge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var messageSchemas = map[string]string{
	MsgZipData: `{
		"type": "object",
		"required": ["data", "projectId"],
		"properties": {
			"data": {"type": "string", "minLength": 1},
			"projectId": {"type": "string"}
		}
	}`,
	MsgSetCommitMessage: `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"message": {"type": "string"}
		}
	}`,
	MsgImportPrivateRepo: `{
		"type": "object",
		"required": ["repoName"],
		"properties": {
			"repoName": {"type": "string", "minLength": 1},
			"branch": {"type": "string"}
		}
	}`,
}

// MessageValidator checks inbound port payloads against per-type schemas
// before dispatch. Types without a schema pass through.
type MessageValidator struct {
	schemas map[string]*jsonschema.Schema
}

func NewMessageValidator() (*MessageValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(messageSchemas))
	for msgType, text := range messageSchemas {
		url := fmt.Sprintf("bridge:///%s.json", strings.ToLower(msgType))
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", msgType, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("register schema for %s: %w", msgType, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", msgType, err)
		}
		compiled[msgType] = sch
	}
	return &MessageValidator{schemas: compiled}, nil
}

func (v *MessageValidator) Validate(msgType string, data []byte) error {
	if v == nil {
		return nil
	}
	sch, ok := v.schemas[msgType]
	if !ok {
		return nil
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %s requires a payload", ErrInvalidInput, msgType)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s payload is not valid JSON", ErrInvalidInput, msgType)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s payload invalid: %v", ErrInvalidInput, msgType, err)
	}
	return nil
}
