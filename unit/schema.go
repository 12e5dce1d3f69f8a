package unit

import (
	"reflect"

	"github.com/xraph/taskrun"
)

// FieldType is the declared type of a payload key.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldTime   FieldType = "time"
	// FieldObject accepts structs, maps, slices and pointers to them.
	FieldObject FieldType = "object"
	// FieldAny only requires a non-nil value.
	FieldAny FieldType = "any"
)

// Field declares one payload key.
type Field struct {
	Key      string
	Type     FieldType
	Optional bool
}

// Required declares a key that must be present with the given type.
func Required(key string, t FieldType) Field {
	return Field{Key: key, Type: t}
}

// OptionalField declares a key that, if present, must have the given type.
func OptionalField(key string, t FieldType) Field {
	return Field{Key: key, Type: t, Optional: true}
}

// Schema lists the payload keys a workflow expects. The zero Schema accepts
// any payload.
type Schema struct {
	Fields []Field
}

// NewSchema creates a schema from fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Validate checks p against the schema and returns a
// *taskrun.ValidationError naming every failing key, or nil.
func (s Schema) Validate(unitName string, p *Payload) error {
	var problems []taskrun.FieldError
	for _, f := range s.Fields {
		v, ok := p.Get(f.Key)
		if !ok || v == nil {
			if !f.Optional {
				problems = append(problems, taskrun.FieldError{Key: f.Key, Reason: "required"})
			}
			continue
		}
		if !matches(f.Type, v) {
			problems = append(problems, taskrun.FieldError{
				Key:    f.Key,
				Reason: "expected " + string(f.Type) + ", got " + reflect.TypeOf(v).String(),
			})
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &taskrun.ValidationError{Unit: unitName, Fields: problems}
}

func matches(t FieldType, v any) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldInt:
		_, ok := asInt(v)
		return ok
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldTime:
		_, ok := asTime(v)
		return ok
	case FieldObject:
		rt := reflect.TypeOf(v)
		if rt.Kind() == reflect.Pointer {
			rt = rt.Elem()
		}
		switch rt.Kind() {
		case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
			return true
		}
		return false
	case FieldAny, "":
		return true
	default:
		return false
	}
}
