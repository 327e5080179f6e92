package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/joluben/sigsim/internal/domain"
)

// Defaults applied when a generator spec omits its parameters.
const (
	defaultString             = "default"
	defaultRandomStringLength = 10
	defaultRandomMin          = 0
	defaultRandomMax          = 100
	defaultFloatDecimals      = 2
)

// SchemaGenerator renders an ordered field list into a payload.
type SchemaGenerator struct {
	fields []domain.FieldSpec
}

// NewSchema validates the field list and builds a schema generator.
// Unknown generator variants are tolerated (they fall back to a type
// default at render time); unknown field types are not.
func NewSchema(fields []domain.FieldSpec) (*SchemaGenerator, error) {
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: schema field %d has no name", domain.ErrConfigInvalid, i)
		}
		if !domain.IsValidFieldType(f.Type) {
			return nil, fmt.Errorf("%w: schema field %q has unknown type %q", domain.ErrConfigInvalid, f.Name, f.Type)
		}
	}
	return &SchemaGenerator{fields: fields}, nil
}

// Generate renders every schema field, then merges the device metadata
// on top. Metadata wins on key collision.
func (g *SchemaGenerator) Generate(_ context.Context, deviceMetadata map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(g.fields)+len(deviceMetadata))
	for _, f := range g.fields {
		payload[f.Name] = fieldValue(f)
	}
	for k, v := range deviceMetadata {
		payload[k] = v
	}
	return payload, nil
}

func fieldValue(f domain.FieldSpec) any {
	switch f.Type {
	case domain.FieldTypeUUID:
		return uuid.NewString()
	case domain.FieldTypeTimestamp:
		return time.Now().UTC().Format(time.RFC3339)
	case domain.FieldTypeString:
		return stringValue(f.Generator)
	case domain.FieldTypeNumber:
		return numberValue(f.Generator)
	case domain.FieldTypeBoolean:
		return booleanValue(f.Generator)
	}
	return nil
}

func stringValue(spec *domain.GeneratorSpec) any {
	if spec == nil {
		return defaultString
	}
	switch spec.Type {
	case domain.GeneratorFixed:
		if spec.Value == nil {
			return defaultString
		}
		if s, ok := spec.Value.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", spec.Value)
	case domain.GeneratorRandomChoice:
		if len(spec.Choices) == 0 {
			return defaultString
		}
		return spec.Choices[rand.IntN(len(spec.Choices))]
	case domain.GeneratorRandomString:
		length := defaultRandomStringLength
		if spec.Length != nil && *spec.Length > 0 {
			length = *spec.Length
		}
		return randomString(length)
	default:
		return defaultString
	}
}

func numberValue(spec *domain.GeneratorSpec) any {
	if spec == nil {
		return 0
	}
	switch spec.Type {
	case domain.GeneratorFixed:
		switch v := spec.Value.(type) {
		case float64:
			return v
		case int:
			return v
		case int64:
			return v
		}
		return 0
	case domain.GeneratorRandomInt:
		lo, hi := defaultRandomMin, defaultRandomMax
		if spec.Min != nil {
			lo = int(*spec.Min)
		}
		if spec.Max != nil {
			hi = int(*spec.Max)
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return lo + rand.IntN(hi-lo+1)
	case domain.GeneratorRandomFloat:
		lo, hi := float64(defaultRandomMin), float64(defaultRandomMax)
		if spec.Min != nil {
			lo = *spec.Min
		}
		if spec.Max != nil {
			hi = *spec.Max
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		decimals := defaultFloatDecimals
		if spec.Decimals != nil && *spec.Decimals >= 0 {
			decimals = *spec.Decimals
		}
		pow := math.Pow(10, float64(decimals))
		v := lo + rand.Float64()*(hi-lo)
		return math.Round(v*pow) / pow
	default:
		return 0
	}
}

func booleanValue(spec *domain.GeneratorSpec) any {
	if spec == nil {
		return true
	}
	switch spec.Type {
	case domain.GeneratorFixed:
		if b, ok := spec.Value.(bool); ok {
			return b
		}
		return true
	case domain.GeneratorRandomBool:
		return rand.IntN(2) == 0
	default:
		return true
	}
}
