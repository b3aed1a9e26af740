package register

// Kind selects how source words turn into one analog channel.
type Kind uint8

const (
	// Scaled multiplies a single word by Rule.Scale
	Scaled Kind = iota
	// Float32ABCD reads two words as an IEEE-754 single, word i holding the high half
	Float32ABCD
	// Int32 reads two words as a signed 32-bit integer, word i+1 holding the high half
	Int32
)

func (k Kind) String() string {
	switch k {
	case Scaled:
		return "scaled"
	case Float32ABCD:
		return "float32_abcd"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Width is the number of source words a single output consumes.
func (k Kind) Width() int {
	if k == Scaled {
		return 1
	}

	return 2
}

// Rule maps the source positions First, First+Step, ..., Last (inclusive)
// onto consecutive analog channels.
type Rule struct {
	Kind  Kind
	First int
	Last  int
	Step  int
	Scale float32
}

// Outputs returns the number of channels the rule produces.
func (r Rule) Outputs() int {
	return (r.Last-r.First)/r.Step + 1
}

// WordRange is an inclusive range of words unpacked into 16 booleans each.
type WordRange struct {
	First int
	Last  int
}

// Outputs returns the number of channels the range produces.
func (w WordRange) Outputs() int {
	return (w.Last - w.First + 1) * 16
}

func scaled(first, last, step int, scale float32) Rule {
	return Rule{Kind: Scaled, First: first, Last: last, Step: step, Scale: scale}
}

func float32ABCD(first, last int) Rule {
	return Rule{Kind: Float32ABCD, First: first, Last: last, Step: 2, Scale: 1}
}

func int32Pair(first, last int) Rule {
	return Rule{Kind: Int32, First: first, Last: last, Step: 2, Scale: 1}
}

// AnalogRules is the controller's analog register map. Channel order is the
// persisted column order; entries must never be reordered or resized.
var AnalogRules = []Rule{
	scaled(1, 106, 3, 0.01),
	scaled(108, 117, 3, 0.1),
	scaled(120, 120, 1, 1),
	scaled(121, 122, 1, 0.1),
	scaled(123, 123, 1, 0.01),
	scaled(124, 124, 1, 0.1),
	scaled(125, 162, 1, 0.01),
	scaled(163, 174, 1, 1),
	scaled(175, 175, 1, 0.1),
	scaled(176, 176, 1, 0.01),
	scaled(300, 304, 1, 1),
	scaled(350, 353, 1, 1),
	float32ABCD(355, 373),
	float32ABCD(1050, 1104),
	float32ABCD(1110, 1184),
	float32ABCD(1250, 1344),
	float32ABCD(1350, 1356),
	float32ABCD(1362, 1364),
	float32ABCD(1370, 1372),
	float32ABCD(1378, 1380),
	float32ABCD(1386, 1456),
	float32ABCD(1470, 1510),
	int32Pair(3004, 3020),
	scaled(3022, 3022, 1, 1),
}

// BoolRanges is the controller's status word map, unpacked in order.
var BoolRanges = []WordRange{
	{First: 500, Last: 505},
	{First: 200, Last: 204},
	{First: 250, Last: 256},
	{First: 275, Last: 276},
	{First: 1000, Last: 1001},
	{First: 1005, Last: 1008},
	{First: 1015, Last: 1021},
	{First: 1025, Last: 1026},
}
