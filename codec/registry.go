package codec

// Codec ids understood by the default registry.
const (
	IDAV1  = "av01"
	IDVP9  = "vp09"
	IDVP8  = "vp8"
	IDAVC1 = "avc1"
	IDAVC3 = "avc3"
	IDHVC1 = "hvc1"
	IDHEV1 = "hev1"
)

// RenderFunc renders a parameter map into the codec parameter string for
// one codec id. Implementations must be deterministic and side-effect free.
type RenderFunc func(codecID string, params Parameters) (string, error)

// Definition binds one codec id to its parameter-string renderer.
// Definitions are immutable once registered.
type Definition struct {
	// ID is the short ASCII codec tag, e.g. "av01".
	ID string
	// Name is an optional human-readable family name.
	Name string

	render RenderFunc
}

// NewDefinition creates a Definition for the given id and renderer.
func NewDefinition(id, name string, render RenderFunc) *Definition {
	return &Definition{ID: id, Name: name, render: render}
}

// CodecString renders the parameter string for this definition.
func (d *Definition) CodecString(params Parameters) (string, error) {
	return d.render(d.ID, params)
}

// Registry is a read-mostly table of codec definitions keyed by codec id.
// Several definitions may share an id; Lookup returns all of them in
// registration order, which is the documented tie-break when negotiation
// finds more than one match for a family.
type Registry struct {
	defs []*Definition
	byID map[string][]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string][]*Definition)}
}

// DefaultRegistry creates a registry with all built-in codec families, in
// preference order. hvc1/hev1 and avc1/avc3 share renderers but register
// under their own ids.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewDefinition(IDAV1, "AV1", renderAV1))
	r.Register(NewDefinition(IDVP9, "VP9", renderVP9))
	r.Register(NewDefinition(IDVP8, "VP8", renderVP8))
	r.Register(NewDefinition(IDAVC1, "AVC", renderAVC))
	r.Register(NewDefinition(IDAVC3, "AVC", renderAVC))
	r.Register(NewDefinition(IDHVC1, "HEVC", renderHEVC))
	r.Register(NewDefinition(IDHEV1, "HEVC", renderHEVC))
	return r
}

// Register appends a definition. Registration order is preserved, both in
// Definitions and within each id's Lookup slice.
func (r *Registry) Register(def *Definition) {
	r.defs = append(r.defs, def)
	r.byID[def.ID] = append(r.byID[def.ID], def)
}

// Lookup returns all definitions registered under the given codec id, in
// registration order. The returned slice must not be modified.
func (r *Registry) Lookup(codecID string) []*Definition {
	return r.byID[codecID]
}

// Definitions returns every registered definition in registration order.
// The returned slice must not be modified.
func (r *Registry) Definitions() []*Definition {
	return r.defs
}
