package workerclient

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// RequestKind selects the request schema to validate against.
type RequestKind string

// Request kinds understood by the validator.
const (
	RequestDiscover RequestKind = "discover"
	RequestProfile  RequestKind = "profile"
)

var requestSchemaFiles = map[RequestKind]string{
	RequestDiscover: "schemas/discover_request.json",
	RequestProfile:  "schemas/profile_request.json",
}

const responseSchemaFile = "schemas/worker_response.json"

// Validator checks payloads against the worker's JSON schemas. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	requests map[RequestKind]*gojsonschema.Schema
	response *gojsonschema.Schema
}

var defaultValidator = sync.OnceValues(NewValidator)

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{requests: make(map[RequestKind]*gojsonschema.Schema, len(requestSchemaFiles))}
	for kind, file := range requestSchemaFiles {
		schema, err := loadSchema(file)
		if err != nil {
			return nil, err
		}
		v.requests[kind] = schema
	}
	schema, err := loadSchema(responseSchemaFile)
	if err != nil {
		return nil, err
	}
	v.response = schema
	return v, nil
}

func loadSchema(file string) (*gojsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", file, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", file, err)
	}
	return schema, nil
}

// ValidateRequest encodes raw and checks it against the schema for kind.
// On success it returns the encoded body ready to send.
func (v *Validator) ValidateRequest(kind RequestKind, raw any) ([]byte, error) {
	schema, ok := v.requests[kind]
	if !ok {
		return nil, &ValidationError{
			Stage:  StageRequest,
			Fields: []FieldError{{Field: "kind", Message: fmt.Sprintf("unknown request kind %q", kind)}},
		}
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, &ValidationError{
			Stage:  StageRequest,
			Fields: []FieldError{{Field: rootField, Message: fmt.Sprintf("cannot encode request: %v", err)}},
		}
	}
	if err := validateDocument(schema, body, StageRequest); err != nil {
		return nil, err
	}
	if kind == RequestDiscover {
		if err := checkSiteURL(body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// checkSiteURL rejects http(s) URLs without a host. The uri format only
// requires a scheme, so "http://" would otherwise pass.
func checkSiteURL(body []byte) error {
	var req DiscoverRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return &ValidationError{
			Stage:  StageRequest,
			Fields: []FieldError{{Field: rootField, Message: err.Error()}},
		}
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return &ValidationError{
			Stage:  StageRequest,
			Fields: []FieldError{{Field: "url", Message: err.Error()}},
		}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return &ValidationError{
				Stage:  StageRequest,
				Fields: []FieldError{{Field: "url", Message: fmt.Sprintf("url %q has no host", req.URL)}},
			}
		}
	}
	return nil
}

// ValidateResponse checks a raw worker body and decodes it. Bodies that are
// not JSON fail the same way as bodies with missing fields.
func (v *Validator) ValidateResponse(raw []byte) (Response, error) {
	if err := validateDocument(v.response, raw, StageResponse); err != nil {
		return Response{}, err
	}
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Response{}, &ValidationError{
			Stage:  StageResponse,
			Fields: []FieldError{{Field: rootField, Message: err.Error()}},
		}
	}
	count, err := wire.count()
	if err != nil {
		return Response{}, &ValidationError{
			Stage:  StageResponse,
			Fields: []FieldError{{Field: "count", Message: err.Error()}},
		}
	}
	return Response{
		Source:      wire.Source,
		Links:       wire.Links,
		Feeds:       wire.Feeds,
		Count:       count,
		Diagnostics: wire.Diagnostics,
	}, nil
}

const rootField = "(root)"

func validateDocument(schema *gojsonschema.Schema, doc []byte, stage Stage) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{
			Stage:  stage,
			Fields: []FieldError{{Field: rootField, Message: fmt.Sprintf("invalid JSON: %v", err)}},
		}
	}
	if res.Valid() {
		return nil
	}
	fields := make([]FieldError, 0, len(res.Errors()))
	for _, item := range res.Errors() {
		fields = append(fields, FieldError{Field: fieldName(item), Message: item.Description()})
	}
	return &ValidationError{Stage: stage, Fields: fields}
}

// fieldName reports the offending property. gojsonschema attributes
// missing required properties to their parent, so the property name is
// pulled from the error details instead.
func fieldName(item gojsonschema.ResultError) string {
	field := item.Field()
	if item.Type() != "required" {
		return field
	}
	prop, ok := item.Details()["property"].(string)
	if !ok || prop == "" {
		return field
	}
	if field == "" || field == rootField {
		return prop
	}
	return field + "." + prop
}

// wireResponse mirrors Response with a lenient count: JSON Schema accepts
// 3.0 as an integer, encoding/json does not.
type wireResponse struct {
	Source      string         `json:"source"`
	Links       []string       `json:"links"`
	Feeds       []string       `json:"feeds"`
	Count       json.Number    `json:"count"`
	Diagnostics map[string]any `json:"diagnostics"`
}

func (w wireResponse) count() (int, error) {
	if n, err := w.Count.Int64(); err == nil {
		return int(n), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(w.Count.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("count is not a number: %w", err)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("count %v is not an integer", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("count %v is out of range", f)
	}
	return int(f), nil
}
