package api

// PropertyKind is the declared type of a remote property value.
type PropertyKind string

// Property kinds understood by the client. Any other declared kind is a
// protocol violation.
const (
	PropertyKindStr   PropertyKind = "str"
	PropertyKindBool  PropertyKind = "bool"
	PropertyKindInt   PropertyKind = "int"
	PropertyKindVM    PropertyKind = "vm"
	PropertyKindLabel PropertyKind = "label"
)

// DefaultMarker is the single-character flag used in bulk property responses
// to mark a value as the implicit default rather than an explicitly set one.
const DefaultMarker = "D"
