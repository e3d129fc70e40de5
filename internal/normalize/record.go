package normalize

// Record is the canonical form of one entity: the exact document that is
// hashed. Keys are stable, relations are always lists.
type Record map[string]any

// ID returns the record identifier, or "" when the source carried none.
// Passthrough records keep their source shape, so numeric, text-wrapped and
// attribute-style ("@id") identifiers are read the same way Value.ID reads them.
func (r Record) ID() string {
	if id, ok := r["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := Parse(r["id"]).Text(); ok {
		return id
	}
	id, _ := Parse(r[attrPrefix+"id"]).Text()
	return id
}

// builder assembles a Record field by field. Absent optional scalars are
// omitted rather than written as null.
type builder struct {
	src Value
	out Record
}

func newBuilder(src Value) *builder {
	b := &builder{src: src, out: Record{}}
	if id, ok := src.ID(); ok {
		b.out["id"] = id
	}
	return b
}

// text copies scalar fields, preferring plain keys over attribute keys.
func (b *builder) text(names ...string) *builder {
	for _, name := range names {
		if s, ok := b.src.Field(name); ok {
			b.out[name] = s
		}
	}
	return b
}

// related writes a relation of nested entities.
func (b *builder) related(field, singular string) *builder {
	b.out[field] = relatedList(b.src.Get(field).Relation(singular))
	return b
}

// strings writes a flat multi-valued text relation.
func (b *builder) strings(field, singular string) *builder {
	b.out[field] = b.src.Get(field).Strings(singular)
	return b
}

// attributes writes a relation of attribute records (images, videos).
func (b *builder) attributes(field, singular string) *builder {
	b.out[field] = attributeList(b.src.Get(field).Relation(singular))
	return b
}

func (b *builder) set(field string, v any) *builder {
	b.out[field] = v
	return b
}

func (b *builder) build() Record { return b.out }

// relatedList converts relation items into nested entities, dropping items
// that carry no identifier.
func relatedList(items []Value) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if n, ok := nested(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// nested converts one related entity to {id, name?, ...rest}. The name comes
// from a name member or, failing that, from the element's own text.
func nested(item Value) (map[string]any, bool) {
	id, ok := item.ID()
	if !ok {
		return nil, false
	}
	n := map[string]any{"id": id}
	if name, ok := item.Field("name"); ok {
		n["name"] = name
	} else if name, ok := item.Get(textKey).Text(); ok {
		n["name"] = name
	}
	for _, k := range item.Keys() {
		switch k {
		case "id", "@id", "name", "@name", textKey:
			continue
		}
		key := stripPrefix(k)
		if _, exists := n[key]; exists && key != k {
			continue
		}
		n[key] = item.Get(k).Plain()
	}
	return n, true
}

// attributeList converts attribute-only records. They have no identifier of
// their own; items that are not objects are dropped.
func attributeList(items []Value) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item.Kind() != KindObject {
			continue
		}
		if m, ok := item.Plain().(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// crossRef reads a reference to another entity as a bare identifier string.
// Both `"123"` and `{"#text": "123", "@is_main_release": "true"}` yield "123".
func crossRef(v Value) (string, bool) {
	if s, ok := v.Text(); ok {
		return s, true
	}
	return v.ID()
}
