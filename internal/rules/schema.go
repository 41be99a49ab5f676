package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// ruleDocument is the wire form of a single rule. Ordered maps are kept
// raw and walked with gjson so declaration order survives.
type ruleDocument struct {
	URL                *string         `json:"url" validate:"omitempty,min=1"`
	Path               *string         `json:"path" validate:"omitempty,min=1"`
	Methods            []string        `json:"methods" validate:"omitempty,dive,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS TRACE CONNECT"`
	ConnectionPoolSize *int            `json:"connectionPoolSize" validate:"omitempty,max=10000"`
	KeepAlive          *bool           `json:"keepAlive"`
	Timeout            *float64        `json:"timeout"`
	ExpandOnBackend    *bool           `json:"expandOnBackend"`
	StorageExpand      *bool           `json:"storageExpand"`
	LogExpiry          *int64          `json:"logExpiry" validate:"omitempty,min=0"`
	Profile            []string        `json:"profile" validate:"omitempty,dive,required"`
	BasicAuth          *basicAuth      `json:"basicAuth"`
	TranslateStatus    json.RawMessage `json:"translateStatus"`
	StaticHeaders      json.RawMessage `json:"staticHeaders"`
	Storage            *string         `json:"storage" validate:"omitempty,min=1"`
	MetricName         *string         `json:"metricName" validate:"omitempty,max=256"`
}

type basicAuth struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

// decodeRule decodes and schema-checks one rule object. Unknown fields
// are rejected.
func decodeRule(v *validator.Validate, raw string) (*ruleDocument, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var doc ruleDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	if doc.Methods != nil {
		for i, m := range doc.Methods {
			doc.Methods[i] = strings.ToUpper(m)
		}
	}

	if err := v.Struct(&doc); err != nil {
		return nil, formatValidationError(err)
	}
	return &doc, nil
}

// formatValidationError flattens validator output into a single error
// naming the JSON fields.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// newValidator returns a validator that reports JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// orderedStrings walks a JSON object in declaration order. Values must
// be strings or numbers.
func orderedStrings(raw json.RawMessage, field string) ([][2]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return nil, fmt.Errorf("%s must be an object", field)
	}

	var (
		pairs [][2]string
		err   error
	)
	obj.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String, gjson.Number:
			pairs = append(pairs, [2]string{key.String(), value.String()})
			return true
		default:
			err = fmt.Errorf("%s.%s must be a string", field, key.String())
			return false
		}
	})
	return pairs, err
}
