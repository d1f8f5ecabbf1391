package proto

// PodType tags the value carried by a Pod (§6's parameter blob).
type PodType uint32

const (
	PodNone PodType = iota
	PodBool
	PodInt
	PodLong
	PodFloat
	PodDouble
	PodString
	PodBytes
	PodRectangle
	PodFraction
	PodArray
	PodStruct
	PodObject
	PodChoice
)

// Rectangle is a width/height pair, used by video format pods.
type Rectangle struct {
	Width, Height uint32
}

// Fraction is a numerator/denominator pair, used by rate pods.
type Fraction struct {
	Num, Denom uint32
}

// ChoiceKind is a Pod's "none/range/enum/step/flags" choice kind (§6
// EnumFormat uses this to describe acceptable value ranges rather than a
// single fixed value).
type ChoiceKind uint32

const (
	ChoiceNone ChoiceKind = iota
	ChoiceRange
	ChoiceStep
	ChoiceEnum
	ChoiceFlags
)

// Choice is a Pod value that names a default plus a set of alternatives,
// used when answering EnumFormat with "any of these" instead of a single
// fixed value.
type Choice struct {
	Kind       ChoiceKind
	Default    any
	Alternates []any
}

// Pod is a single self-describing parameter value (§6): the unit
// exchanged by EnumParams/SetParam. A Struct pod nests named fields; an
// Object pod additionally tags itself with an ObjectID, the ParamID
// (e.g. ParamFormat) of the parameter it describes.
type Pod struct {
	Type PodType

	Bool      bool
	Int       int32
	Long      int64
	Float     float32
	Double    float64
	String    string
	Bytes     []byte
	Rectangle Rectangle
	Fraction  Fraction
	Array     []Pod
	Fields    map[string]Pod // PodStruct / PodObject
	ObjectID  ParamID        // valid when Type == PodObject
	Choice    Choice
}

// Builder accumulates named fields for a PodStruct/PodObject, mirroring
// the two-phase "build up the param, then SetParam it" control sequence
// the teacher uses for device/queue params (AddDevice -> SetParams).
type Builder struct {
	objectID ParamID
	isObject bool
	fields   map[string]Pod
}

// NewStructBuilder starts a plain struct pod.
func NewStructBuilder() *Builder {
	return &Builder{fields: make(map[string]Pod)}
}

// NewObjectBuilder starts an object pod tagged with id (e.g. ParamFormat).
func NewObjectBuilder(id ParamID) *Builder {
	return &Builder{objectID: id, isObject: true, fields: make(map[string]Pod)}
}

func (b *Builder) SetInt(name string, v int32) *Builder {
	b.fields[name] = Pod{Type: PodInt, Int: v}
	return b
}

func (b *Builder) SetLong(name string, v int64) *Builder {
	b.fields[name] = Pod{Type: PodLong, Long: v}
	return b
}

func (b *Builder) SetString(name string, v string) *Builder {
	b.fields[name] = Pod{Type: PodString, String: v}
	return b
}

func (b *Builder) SetRectangle(name string, v Rectangle) *Builder {
	b.fields[name] = Pod{Type: PodRectangle, Rectangle: v}
	return b
}

func (b *Builder) SetFraction(name string, v Fraction) *Builder {
	b.fields[name] = Pod{Type: PodFraction, Fraction: v}
	return b
}

// SetChoice attaches an EnumFormat-style "any of these" range instead of
// a fixed value for name.
func (b *Builder) SetChoice(name string, c Choice) *Builder {
	b.fields[name] = Pod{Type: PodChoice, Choice: c}
	return b
}

func (b *Builder) Build() Pod {
	if b.isObject {
		return Pod{Type: PodObject, ObjectID: b.objectID, Fields: b.fields}
	}
	return Pod{Type: PodStruct, Fields: b.fields}
}

// Field looks up a named field of a Struct/Object pod.
func (p Pod) Field(name string) (Pod, bool) {
	v, ok := p.Fields[name]
	return v, ok
}
