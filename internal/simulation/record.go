package simulation

import "math"

// ElevationScale converts seed luminance in [0,1] into elevation units.
const ElevationScale = 64

// Kernel tuning. The elevation relaxes toward a target that grows with the
// reactive intensity and ripples outward from the field's centre.
const (
	rippleFrequency = 0.05
	rippleSpeed     = 2
	rippleAmplitude = 24
	intensityLift   = 0.5
	relaxRate       = 0.2
)

// Record is one particle texel.
type Record struct {
	X         float32
	Elevation float32
	Z         float32
}

// KernelParams are the per-tick uniforms handed to the kernel.
type KernelParams struct {
	Intensity float32
	// Time is elapsed session time in seconds.
	Time float32
}

// SeedImage is an 8-bit non-premultiplied RGBA raster, row-major with a
// top-left origin.
type SeedImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// Luminance returns the Rec. 601 luma of pixel i in [0,1].
func (s SeedImage) Luminance(i int) float32 {
	o := i * 4
	r := float32(s.Pix[o]) / 255
	g := float32(s.Pix[o+1]) / 255
	b := float32(s.Pix[o+2]) / 255
	return 0.299*r + 0.587*g + 0.114*b
}

// seedRecords lays the image out on the XZ plane centred on the origin and
// lifts each texel by its luminance.
func seedRecords(width, height int, img SeedImage) []Record {
	out := make([]Record, width*height)
	hw, hh := float32(width)/2, float32(height)/2
	for i := range out {
		x := i % width
		y := i / width
		out[i] = Record{
			X:         float32(x) - hw,
			Elevation: img.Luminance(i) * ElevationScale,
			Z:         float32(y) - hh,
		}
	}
	return out
}

// StepRecord advances one texel. seed is the texel's rest state and cur its
// state after the previous tick.
func StepRecord(seed, cur Record, p KernelParams) Record {
	dist := math.Sqrt(float64(seed.X*seed.X + seed.Z*seed.Z))
	phase := float32(dist)*rippleFrequency - p.Time*rippleSpeed
	target := seed.Elevation*(1+intensityLift*p.Intensity) +
		rippleAmplitude*p.Intensity*float32(math.Sin(float64(phase)))
	return Record{
		X:         seed.X,
		Elevation: cur.Elevation + (target-cur.Elevation)*relaxRate,
		Z:         seed.Z,
	}
}
