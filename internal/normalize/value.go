package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the shape held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const (
	// textKey holds element text when an element also carries attributes.
	textKey = "#text"
	// attrPrefix marks attribute-style keys ("@id").
	attrPrefix = "@"
)

// Value is a decoded source document reduced to a closed set of shapes.
//
// Parse is the only place that inspects dynamic Go types. Canonicalizers work
// exclusively through Value accessors, so every "is it a string, a list, or a
// wrapper object" decision lives in this file.
type Value struct {
	kind    Kind
	str     string // KindString, KindNumber (textual form)
	boolean bool
	list    []Value
	obj     map[string]Value
}

// Null is the zero Value.
var Null = Value{}

// Parse converts a decoded document into a Value.
// Numbers keep their textual form so "1" and 1 render the same identifier.
func Parse(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null
	case Value:
		return x
	case string:
		return Value{kind: KindString, str: x}
	case json.Number:
		return Value{kind: KindNumber, str: x.String()}
	case float64:
		return Value{kind: KindNumber, str: strconv.FormatFloat(x, 'f', -1, 64)}
	case float32:
		return Value{kind: KindNumber, str: strconv.FormatFloat(float64(x), 'f', -1, 32)}
	case int:
		return Value{kind: KindNumber, str: strconv.Itoa(x)}
	case int64:
		return Value{kind: KindNumber, str: strconv.FormatInt(x, 10)}
	case int32:
		return Value{kind: KindNumber, str: strconv.FormatInt(int64(x), 10)}
	case uint64:
		return Value{kind: KindNumber, str: strconv.FormatUint(x, 10)}
	case bool:
		return Value{kind: KindBool, boolean: x}
	case []any:
		list := make([]Value, len(x))
		for i, item := range x {
			list[i] = Parse(item)
		}
		return Value{kind: KindList, list: list}
	case []string:
		list := make([]Value, len(x))
		for i, item := range x {
			list[i] = Value{kind: KindString, str: item}
		}
		return Value{kind: KindList, list: list}
	case []map[string]any:
		list := make([]Value, len(x))
		for i, item := range x {
			list[i] = Parse(item)
		}
		return Value{kind: KindList, list: list}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			obj[k] = Parse(item)
		}
		return Value{kind: KindObject, obj: obj}
	case map[string]string:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			obj[k] = Value{kind: KindString, str: item}
		}
		return Value{kind: KindObject, obj: obj}
	case Record:
		return Parse(map[string]any(x))
	default:
		// Anything else (structs from a custom decoder) is rendered as text
		// rather than rejected.
		return Value{kind: KindString, str: fmt.Sprint(x)}
	}
}

// Kind returns the shape of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds nothing.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Get returns the member named key, or Null when v is not an object or lacks key.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Null
	}
	return v.obj[key]
}

// Has reports whether v is an object with a member named key.
func (v Value) Has(key string) bool {
	if v.kind != KindObject {
		return false
	}
	_, ok := v.obj[key]
	return ok
}

// Keys returns the object's member names in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns the list elements of v. Non-list values yield nil.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Text extracts free text: a plain scalar first, then the text-content member of
// an element object. Empty text counts as absent.
func (v Value) Text() (string, bool) {
	var s string
	switch v.kind {
	case KindString, KindNumber:
		s = v.str
	case KindBool:
		s = strconv.FormatBool(v.boolean)
	case KindObject:
		return v.Get(textKey).Text()
	default:
		return "", false
	}
	s = clean(s)
	return s, s != ""
}

// Field returns the text of a named member, preferring the plain key over its
// attribute-style twin ("status" over "@status").
func (v Value) Field(name string) (string, bool) {
	if s, ok := v.Get(name).Text(); ok {
		return s, true
	}
	return v.Get(attrPrefix + name).Text()
}

// ID extracts the identifier of an element. A plain "id" member wins over "@id"
// when both are present.
func (v Value) ID() (string, bool) {
	return v.Field("id")
}

// Relation reads a one-to-many relation and always returns a list:
//
//   - null yields an empty list
//   - a list yields its elements
//   - an object wrapping the relation under its singular name is unwrapped once
//   - any other bare value, including a single related object, is wrapped in a
//     one-element list
func (v Value) Relation(singular string) []Value {
	if v.isWrapper(singular) {
		return v.obj[singular].asList()
	}
	return v.asList()
}

// isWrapper reports whether v is a container holding the relation under its
// singular name rather than a related element that happens to have a member
// of that name. An element carries its own identifier; a wrapper either holds
// nothing but the singular member or holds a list, object or null under it.
func (v Value) isWrapper(singular string) bool {
	if v.kind != KindObject || singular == "" {
		return false
	}
	inner, ok := v.obj[singular]
	if !ok {
		return false
	}
	if v.Has("id") || v.Has(attrPrefix+"id") {
		return false
	}
	if len(v.obj) == 1 {
		return true
	}
	switch inner.kind {
	case KindList, KindObject, KindNull:
		return true
	default:
		return false
	}
}

func (v Value) asList() []Value {
	switch v.kind {
	case KindNull:
		return []Value{}
	case KindList:
		out := make([]Value, len(v.list))
		copy(out, v.list)
		return out
	default:
		return []Value{v}
	}
}

// Strings reads a multi-valued text relation as a flat list of strings,
// unwrapping text-content objects and skipping anything without text.
func (v Value) Strings(singular string) []string {
	items := v.Relation(singular)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.Text(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Plain converts v back into plain Go values suitable for a Record: objects
// become map[string]any with attribute prefixes stripped from their keys, an
// object holding only text collapses to that text, numbers become json.Number.
func (v Value) Plain() any {
	switch v.kind {
	case KindString:
		return clean(v.str)
	case KindNumber:
		return json.Number(v.str)
	case KindBool:
		return v.boolean
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Plain()
		}
		return out
	case KindObject:
		if len(v.obj) == 1 && v.Has(textKey) {
			return v.obj[textKey].Plain()
		}
		out := make(map[string]any, len(v.obj))
		for _, k := range v.Keys() {
			key := stripPrefix(k)
			// The plain spelling wins when both "x" and "@x" exist.
			if _, exists := out[key]; exists && key != k {
				continue
			}
			out[key] = v.obj[k].Plain()
		}
		return out
	default:
		return nil
	}
}

// Raw converts v back into plain Go values without any canonicalization.
func (v Value) Raw() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return json.Number(v.str)
	case KindBool:
		return v.boolean
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Raw()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Raw()
		}
		return out
	default:
		return nil
	}
}

// stripPrefix removes attribute and text-content markers from a key.
func stripPrefix(key string) string {
	stripped := strings.TrimLeft(key, "@#")
	if stripped == "" {
		return key
	}
	return stripped
}
