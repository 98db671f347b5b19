// Package schema implements AgentOS's defschema type system: named type
// expressions (primitives, records, variants, lists, sets, maps, refs) and
// the normalisation function that converts loose literal JSON forms into
// the canonical representation used for hashing.
package schema

import "fmt"

// Kind identifies the shape of a type expression.
type Kind string

const (
	KindPrimitive Kind = "primitive"
	KindRecord    Kind = "record"
	KindVariant   Kind = "variant"
	KindList      Kind = "list"
	KindSet       Kind = "set"
	KindMap       Kind = "map"
	KindRef       Kind = "ref"
)

// Primitive names the scalar types.
type Primitive string

const (
	PrimString  Primitive = "string"
	PrimInt     Primitive = "int"
	PrimBool    Primitive = "bool"
	PrimBytes   Primitive = "bytes"
	PrimDecimal Primitive = "decimal"
	PrimNull    Primitive = "null"
)

// Field is one named, ordered field of a record.
type Field struct {
	Name     string
	Type     *Schema
	Optional bool
}

// VariantCase is one tagged alternative of a variant (tagged union).
type VariantCase struct {
	Tag  string
	Type *Schema // may be nil for a unit case
}

// Schema is a named type expression. Exactly the fields relevant to Kind
// are populated; all others are zero.
type Schema struct {
	Name string
	Kind Kind

	Primitive Primitive // KindPrimitive

	Fields []Field // KindRecord, ordered

	Cases []VariantCase // KindVariant

	Elem *Schema // KindList, KindSet

	MapKey   *Schema // KindMap
	MapValue *Schema // KindMap

	RefName string // KindRef — looked up in an Index
}

// Invalid reports a normalisation or validation failure. It is a value, not
// a panic: normalization is total, never panics.
type Invalid struct {
	Path   string
	Reason string
}

func (e *Invalid) Error() string {
	return fmt.Sprintf("invalid value at %s: %s", e.Path, e.Reason)
}

func invalid(path, format string, args ...interface{}) *Invalid {
	return &Invalid{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Primitive constructors, used by manifests building schemas in Go.

func String() *Schema  { return &Schema{Kind: KindPrimitive, Primitive: PrimString} }
func Int() *Schema     { return &Schema{Kind: KindPrimitive, Primitive: PrimInt} }
func Bool() *Schema    { return &Schema{Kind: KindPrimitive, Primitive: PrimBool} }
func Bytes() *Schema   { return &Schema{Kind: KindPrimitive, Primitive: PrimBytes} }
func Decimal() *Schema { return &Schema{Kind: KindPrimitive, Primitive: PrimDecimal} }
func Null() *Schema    { return &Schema{Kind: KindPrimitive, Primitive: PrimNull} }

func Record(fields ...Field) *Schema {
	return &Schema{Kind: KindRecord, Fields: fields}
}

func Variant(cases ...VariantCase) *Schema {
	return &Schema{Kind: KindVariant, Cases: cases}
}

func List(elem *Schema) *Schema { return &Schema{Kind: KindList, Elem: elem} }
func Set(elem *Schema) *Schema  { return &Schema{Kind: KindSet, Elem: elem} }

func Map(key, value *Schema) *Schema {
	return &Schema{Kind: KindMap, MapKey: key, MapValue: value}
}

func Ref(name string) *Schema { return &Schema{Kind: KindRef, RefName: name} }
