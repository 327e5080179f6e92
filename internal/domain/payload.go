package domain

// Payload kind constants.
const (
	PayloadKindSchema = "schema"
	PayloadKindScript = "script"
)

// Field type constants.
const (
	FieldTypeString    = "string"
	FieldTypeNumber    = "number"
	FieldTypeBoolean   = "boolean"
	FieldTypeUUID      = "uuid"
	FieldTypeTimestamp = "timestamp"
)

// Generator variant constants.
const (
	GeneratorFixed        = "fixed"
	GeneratorRandomInt    = "random_int"
	GeneratorRandomFloat  = "random_float"
	GeneratorRandomChoice = "random_choice"
	GeneratorRandomString = "random_string"
	GeneratorRandomBool   = "random"
)

// PayloadDescriptor is the immutable payload template record. A schema payload
// carries an ordered field list; a script payload carries expression source.
type PayloadDescriptor struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Kind   string      `json:"kind"`
	Schema []FieldSpec `json:"schema,omitempty"`
	Script string      `json:"script,omitempty"`
}

// FieldSpec describes one generated field of a schema payload.
type FieldSpec struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Generator *GeneratorSpec `json:"generator,omitempty"`
}

// GeneratorSpec selects the value-generation variant for a field. Only the
// parameters relevant to the variant are set; pointers distinguish absent from
// zero.
type GeneratorSpec struct {
	Type     string   `json:"type,omitempty"`
	Value    any      `json:"value,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Decimals *int     `json:"decimals,omitempty"`
	Choices  []any    `json:"choices,omitempty"`
	Length   *int     `json:"length,omitempty"`
}

// ValidPayloadKinds returns the set of valid payload kinds.
func ValidPayloadKinds() []string {
	return []string{PayloadKindSchema, PayloadKindScript}
}

// IsValidPayloadKind checks whether the given kind is a valid payload kind.
func IsValidPayloadKind(kind string) bool {
	for _, k := range ValidPayloadKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// ValidFieldTypes returns the set of valid schema field types.
func ValidFieldTypes() []string {
	return []string{FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeUUID, FieldTypeTimestamp}
}

// IsValidFieldType checks whether the given type string is a valid field type.
func IsValidFieldType(t string) bool {
	for _, v := range ValidFieldTypes() {
		if v == t {
			return true
		}
	}
	return false
}
