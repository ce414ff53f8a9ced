package nillion

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrUnsupportedValueType is returned for secret values that are neither text nor integers.
var ErrUnsupportedValueType = errors.New("secret_value must be a string or an integer")

// ValueKind tags the representation of a SecretValue.
type ValueKind int

const (
	KindUnsupported ValueKind = iota
	KindText
	KindInteger
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	default:
		return "unsupported"
	}
}

// SecretValue is either a UTF-8 text blob or an integer.
// The kind is decided once, when the value is decoded from a request.
type SecretValue struct {
	kind    ValueKind
	text    string
	integer int64
}

// Text builds a text secret value.
func Text(s string) SecretValue {
	return SecretValue{kind: KindText, text: s}
}

// Integer builds an integer secret value.
func Integer(i int64) SecretValue {
	return SecretValue{kind: KindInteger, integer: i}
}

func (v SecretValue) Kind() ValueKind {
	return v.kind
}

// Text returns the text payload and whether the value is text.
func (v SecretValue) Text() (string, bool) {
	return v.text, v.kind == KindText
}

// Integer returns the integer payload and whether the value is an integer.
func (v SecretValue) Integer() (int64, bool) {
	return v.integer, v.kind == KindInteger
}

// Validate reports ErrUnsupportedValueType for anything other than text or integer.
func (v SecretValue) Validate() error {
	if v.kind != KindText && v.kind != KindInteger {
		return ErrUnsupportedValueType
	}

	return nil
}

// Size is the payload size in bytes used for pricing.
func (v SecretValue) Size() int {
	switch v.kind {
	case KindText:
		return len(v.text)
	case KindInteger:
		return 8
	default:
		return 0
	}
}

func (v SecretValue) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindInteger:
		return strconv.FormatInt(v.integer, 10)
	default:
		return ""
	}
}

func (v SecretValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindInteger:
		return json.Marshal(v.integer)
	default:
		return nil, ErrUnsupportedValueType
	}
}

// UnmarshalJSON accepts any well-formed JSON. Values that are not strings or
// integral numbers decode to an unsupported value and fail Validate.
func (v *SecretValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case string:
		*v = Text(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			*v = SecretValue{}

			return nil
		}

		*v = Integer(i)
	default:
		*v = SecretValue{}
	}

	return nil
}

// Values maps secret names to values in a single store operation.
type Values map[string]SecretValue

// Size sums the payload size of all values.
func (vs Values) Size() int {
	total := 0
	for _, v := range vs {
		total += v.Size()
	}

	return total
}

// Validate checks every value in the set.
func (vs Values) Validate() error {
	for _, v := range vs {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
