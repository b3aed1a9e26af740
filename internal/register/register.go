// Package register decodes the holding-register block of the electrolyser
// controller into the fixed analog and boolean channel layout that every
// stored row and every downstream consumer addresses by index.
package register

const (
	// StartAddress is the first holding register of a frame
	StartAddress = 0
	// FrameSize is the number of holding registers read per cycle
	FrameSize = 3023

	// AnalogCols is the number of analog channels in a decoded frame
	AnalogCols = 307
	// BoolCols is the number of boolean channels in a decoded frame
	BoolCols = 560
)

// Frame is one atomic read of the controller's register block.
type Frame [FrameSize]uint16

// Analog holds the decoded analog channels of one frame.
type Analog [AnalogCols]float32

// Bools holds the decoded boolean channels of one frame.
type Bools [BoolCols]bool

// Len returns the number of analog channels.
func (a *Analog) Len() int { return AnalogCols }

// Args appends the channels to dst in column order.
func (a *Analog) Args(dst []any) []any {
	for _, v := range a {
		dst = append(dst, v)
	}

	return dst
}

// Len returns the number of boolean channels.
func (b *Bools) Len() int { return BoolCols }

// Args appends the channels to dst in column order.
func (b *Bools) Args(dst []any) []any {
	for _, v := range b {
		dst = append(dst, v)
	}

	return dst
}
