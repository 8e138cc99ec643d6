package extract

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names for the structured records each review role emits.
const (
	SchemaImplementation = "implementation"
	SchemaTestCritique   = "test_critique"
	SchemaQA             = "qa"
	SchemaCodeQuality    = "code_quality"
	SchemaManager        = "manager"
	SchemaDoD            = "dod_check"
)

// implementationSchema covers the record the implementer emits after a
// build attempt. File lists usually come from the tree tracker rather than
// the agent, so nothing is required.
const implementationSchema = `{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"files_changed": {"type": "array", "items": {"type": "string"}},
		"files_added": {"type": "array", "items": {"type": "string"}},
		"files_deleted": {"type": "array", "items": {"type": "string"}},
		"notes": {"type": "string"}
	}
}`

// testCritiqueSchema covers the hollow-test analysis verdict.
const testCritiqueSchema = `{
	"type": "object",
	"properties": {
		"critique_passed": {"type": "boolean"},
		"test_quality_score": {"type": "string", "enum": ["A", "B", "C", "D", "F"]},
		"tests_analyzed": {"type": "integer", "minimum": 0},
		"hollow_tests": {"type": "integer", "minimum": 0},
		"issues": {"type": "array"},
		"summary": {"type": "string"},
		"fix_info": {"type": "string"}
	},
	"required": ["critique_passed"]
}`

// qaSchema covers the acceptance verification verdict.
const qaSchema = `{
	"type": "object",
	"properties": {
		"dod_achieved": {"type": "boolean"},
		"fix_info": {"type": "string"},
		"summary": {"type": "string"}
	},
	"required": ["dod_achieved"]
}`

// codeQualitySchema covers the lint and complexity verdict.
const codeQualitySchema = `{
	"type": "object",
	"properties": {
		"quality_passed": {"type": "boolean"},
		"fix_info": {"type": "string"},
		"issues": {"type": "array"},
		"files_analyzed": {"type": "array", "items": {"type": "string"}},
		"blocking_issues_count": {"type": "integer", "minimum": 0},
		"ignored_issues_count": {"type": "integer", "minimum": 0}
	},
	"required": ["quality_passed"]
}`

// managerSchema covers the task artifact update report.
const managerSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string"},
		"updates_made": {"type": "array"},
		"items_completed": {"type": "array"}
	}
}`

// dodSchema covers the completion gate verdict.
const dodSchema = `{
	"type": "object",
	"properties": {
		"task_complete": {"type": "boolean"},
		"remaining_items": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"}
	},
	"required": ["task_complete"]
}`

var schemaSources = map[string]string{
	SchemaImplementation: implementationSchema,
	SchemaTestCritique:   testCritiqueSchema,
	SchemaQA:             qaSchema,
	SchemaCodeQuality:    codeQualitySchema,
	SchemaManager:        managerSchema,
	SchemaDoD:            dodSchema,
}

// ValidateRecord checks a record against the named schema and returns the
// validation findings as human-readable strings. A failing record is a
// quality signal, not a hard error; callers log the findings and keep the
// record. An unknown schema name yields no findings.
func ValidateRecord(schemaName string, record map[string]any) ([]string, error) {
	source, ok := schemaSources[schemaName]
	if !ok {
		return nil, nil
	}

	doc, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(source),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("validating record against %s schema: %w", schemaName, err)
	}

	if result.Valid() {
		return nil, nil
	}

	findings := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		findings = append(findings, desc.String())
	}
	return findings, nil
}

// KnownSchemas returns the schema names ValidateRecord recognizes.
func KnownSchemas() []string {
	return []string{
		SchemaImplementation,
		SchemaTestCritique,
		SchemaQA,
		SchemaCodeQuality,
		SchemaManager,
		SchemaDoD,
	}
}
