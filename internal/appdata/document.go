package appdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Kind enumerates the JSON value kinds a Document node can hold.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

var (
	// ErrNotObject indicates that a JSON payload did not decode to an object.
	ErrNotObject = errors.New("appdata: document must be a JSON object")
	// ErrInvalidDocument indicates that a stored or supplied payload is not valid JSON.
	ErrInvalidDocument = errors.New("appdata: invalid document payload")
)

// Document is an immutable JSON tree value. Numbers are kept as their raw
// decimal text so values round-trip without float drift.
type Document struct {
	kind        Kind
	boolValue   bool
	numberValue json.Number
	stringValue string
	arrayValue  []Document
	objectValue map[string]Document
}

// Null returns the JSON null value.
func Null() Document {
	return Document{kind: KindNull}
}

// Bool returns a JSON boolean value.
func Bool(value bool) Document {
	return Document{kind: KindBool, boolValue: value}
}

// Number returns a JSON number value from its decimal text.
func Number(value json.Number) Document {
	return Document{kind: KindNumber, numberValue: value}
}

// Int returns a JSON number value from an integer.
func Int(value int64) Document {
	return Document{kind: KindNumber, numberValue: json.Number(fmt.Sprintf("%d", value))}
}

// String returns a JSON string value.
func String(value string) Document {
	return Document{kind: KindString, stringValue: value}
}

// Array returns a JSON array value holding the provided items.
func Array(items ...Document) Document {
	copied := make([]Document, len(items))
	copy(copied, items)
	return Document{kind: KindArray, arrayValue: copied}
}

// Object returns a JSON object value holding the provided fields.
func Object(fields map[string]Document) Document {
	copied := make(map[string]Document, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return Document{kind: KindObject, objectValue: copied}
}

// EmptyObject returns the empty JSON object.
func EmptyObject() Document {
	return Document{kind: KindObject, objectValue: map[string]Document{}}
}

// Kind reports the JSON kind of the node.
func (d Document) Kind() Kind {
	return d.kind
}

// IsObject reports whether the node is a JSON object.
func (d Document) IsObject() bool {
	return d.kind == KindObject
}

// BoolValue returns the boolean payload and whether the node is a boolean.
func (d Document) BoolValue() (bool, bool) {
	return d.boolValue, d.kind == KindBool
}

// NumberValue returns the number payload and whether the node is a number.
func (d Document) NumberValue() (json.Number, bool) {
	return d.numberValue, d.kind == KindNumber
}

// StringValue returns the string payload and whether the node is a string.
func (d Document) StringValue() (string, bool) {
	return d.stringValue, d.kind == KindString
}

// Items returns the array elements; nil when the node is not an array.
func (d Document) Items() []Document {
	if d.kind != KindArray {
		return nil
	}
	copied := make([]Document, len(d.arrayValue))
	copy(copied, d.arrayValue)
	return copied
}

// Field looks up an object field by name.
func (d Document) Field(name string) (Document, bool) {
	if d.kind != KindObject {
		return Document{}, false
	}
	value, ok := d.objectValue[name]
	return value, ok
}

// FieldAt walks a path of object field names from the node.
func (d Document) FieldAt(path ...string) (Document, bool) {
	current := d
	for _, name := range path {
		next, ok := current.Field(name)
		if !ok {
			return Document{}, false
		}
		current = next
	}
	return current, true
}

// Keys returns the object's field names in sorted order; nil for non-objects.
func (d Document) Keys() []string {
	if d.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(d.objectValue))
	for key := range d.objectValue {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of array items or object fields.
func (d Document) Len() int {
	switch d.kind {
	case KindArray:
		return len(d.arrayValue)
	case KindObject:
		return len(d.objectValue)
	default:
		return 0
	}
}

// Clone returns a deep copy of the node.
func (d Document) Clone() Document {
	switch d.kind {
	case KindArray:
		items := make([]Document, len(d.arrayValue))
		for i, item := range d.arrayValue {
			items[i] = item.Clone()
		}
		return Document{kind: KindArray, arrayValue: items}
	case KindObject:
		fields := make(map[string]Document, len(d.objectValue))
		for key, value := range d.objectValue {
			fields[key] = value.Clone()
		}
		return Document{kind: KindObject, objectValue: fields}
	default:
		return d
	}
}

// Equal reports deep equality between two nodes. Numbers compare by their
// decimal text.
func (d Document) Equal(other Document) bool {
	if d.kind != other.kind {
		return false
	}
	switch d.kind {
	case KindNull:
		return true
	case KindBool:
		return d.boolValue == other.boolValue
	case KindNumber:
		return d.numberValue == other.numberValue
	case KindString:
		return d.stringValue == other.stringValue
	case KindArray:
		if len(d.arrayValue) != len(other.arrayValue) {
			return false
		}
		for i := range d.arrayValue {
			if !d.arrayValue[i].Equal(other.arrayValue[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(d.objectValue) != len(other.objectValue) {
			return false
		}
		for key, value := range d.objectValue {
			otherValue, ok := other.objectValue[key]
			if !ok || !value.Equal(otherValue) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ParseDocument decodes arbitrary JSON into a Document tree.
func ParseDocument(payload []byte) (Document, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var raw interface{}
	if err := decoder.Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if decoder.More() {
		return Document{}, fmt.Errorf("%w: trailing data", ErrInvalidDocument)
	}
	return fromInterface(raw), nil
}

// ParseObject decodes a JSON payload that must be an object. An empty payload
// decodes to the empty object.
func ParseObject(payload []byte) (Document, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return EmptyObject(), nil
	}
	doc, err := ParseDocument(payload)
	if err != nil {
		return Document{}, err
	}
	if !doc.IsObject() {
		return Document{}, ErrNotObject
	}
	return doc, nil
}

func fromInterface(raw interface{}) Document {
	switch value := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(value)
	case json.Number:
		return Number(value)
	case string:
		return String(value)
	case []interface{}:
		items := make([]Document, len(value))
		for i, item := range value {
			items[i] = fromInterface(item)
		}
		return Document{kind: KindArray, arrayValue: items}
	case map[string]interface{}:
		fields := make(map[string]Document, len(value))
		for key, item := range value {
			fields[key] = fromInterface(item)
		}
		return Document{kind: KindObject, objectValue: fields}
	default:
		// json.Decoder with UseNumber never produces other types.
		return Null()
	}
}

// MarshalJSON encodes the node as canonical JSON with sorted object keys.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes JSON into the node.
func (d *Document) UnmarshalJSON(payload []byte) error {
	parsed, err := ParseDocument(payload)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Document) encode(buf *bytes.Buffer) error {
	switch d.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if d.boolValue {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if d.numberValue == "" {
			buf.WriteString("0")
		} else {
			buf.WriteString(string(d.numberValue))
		}
	case KindString:
		encoded, err := json.Marshal(d.stringValue)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range d.arrayValue {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range d.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := d.objectValue[key].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
