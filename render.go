package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"

	"ARP/internal/session"
	"ARP/internal/simulation"
)

// particleRenderer projects the simulation records into an RGBA buffer. It
// is the session's Drawer and Viewport and runs on the game loop.
type particleRenderer struct {
	camera *orbitCamera

	width  int
	height int
	pixels []byte

	records []simulation.Record
	spin    float64 // degrees

	frequency float64
	progress  float64
	frames    int
}

func newParticleRenderer(camera *orbitCamera, width, height int) *particleRenderer {
	r := &particleRenderer{camera: camera}
	r.Resize(width, height)
	return r
}

// Resize reallocates the pixel buffer for a new screen size.
func (r *particleRenderer) Resize(width, height int) {
	if width <= 0 || height <= 0 || (width == r.width && height == r.height) {
		return
	}
	r.width, r.height = width, height
	r.pixels = make([]byte, width*height*4)
}

func (r *particleRenderer) projection() mgl32.Mat4 {
	aspect := float32(r.width) / float32(r.height)
	return mgl32.Perspective(mgl32.DegToRad(cameraFOVDegrees), aspect, cameraNear, cameraFar)
}

func (r *particleRenderer) model() mgl32.Mat4 {
	spin := mgl32.HomogRotate3DY(mgl32.DegToRad(float32(r.spin)))
	return mgl32.Translate3D(0, cloudOffsetY, 0).Mul4(spin)
}

// Draw rasterizes one frame of particles. The cloud turns a fixed step per
// frame and the reactive intensity tints the particles.
func (r *particleRenderer) Draw(f session.Frame) error {
	n := f.Width * f.Height
	if cap(r.records) < n {
		r.records = make([]simulation.Record, n)
	}
	r.records = r.records[:n]
	if err := f.Read(r.records); err != nil {
		return err
	}

	r.spin = math.Mod(r.spin+cloudSpinPerFrame, 360)
	r.frequency = f.Intensity
	r.progress = f.Progress
	r.frames++

	for i := range r.pixels {
		r.pixels[i] = 0
	}
	mvp := r.projection().Mul4(r.camera.view()).Mul4(r.model())
	for _, rec := range r.records {
		r.plot(mvp, rec)
	}
	return nil
}

// plot projects one record and adds its colour to the covered pixel.
func (r *particleRenderer) plot(mvp mgl32.Mat4, rec simulation.Record) {
	clip := mvp.Mul4x1(mgl32.Vec4{rec.X, rec.Elevation, rec.Z, 1})
	if clip.W() <= 0 {
		return
	}
	inv := 1 / clip.W()
	nx, ny, nz := clip.X()*inv, clip.Y()*inv, clip.Z()*inv
	if nx < -1 || nx > 1 || ny < -1 || ny > 1 || nz < -1 || nz > 1 {
		return
	}
	px := clampCoord(int((nx+1)*0.5*float32(r.width)), 0, r.width-1)
	py := clampCoord(int((1-ny)*0.5*float32(r.height)), 0, r.height-1)

	cr, cg, cb := particleColor(rec.Elevation, r.frequency)
	o := (py*r.width + px) * 4
	r.pixels[o] = addSaturate(r.pixels[o], cr)
	r.pixels[o+1] = addSaturate(r.pixels[o+1], cg)
	r.pixels[o+2] = addSaturate(r.pixels[o+2], cb)
	r.pixels[o+3] = 255
}

// particleColor maps elevation to a blue-to-white ramp, warmed by the
// reactive intensity.
func particleColor(elevation float32, frequency float64) (uint8, uint8, uint8) {
	t := math.Max(0, math.Min(1, float64(elevation)/elevationColorRange))
	f := math.Max(0, math.Min(1, frequency))
	scale := particleBrightness * 255
	red := scale * (0.3 + 0.7*t) * (0.6 + 0.4*f)
	green := scale * (0.4 + 0.6*t)
	blue := scale * (1 - 0.5*f*t)
	return uint8(red), uint8(green), uint8(blue)
}

func addSaturate(a, b uint8) uint8 {
	s := uint16(a) + uint16(b)
	if s > 255 {
		return 255
	}
	return uint8(s)
}

// clampCoord constrains v to lie within the inclusive [min, max] range.
func clampCoord(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// blit copies the rasterized frame onto screen.
func (r *particleRenderer) blit(screen *ebiten.Image) {
	b := screen.Bounds()
	if b.Dx() != r.width || b.Dy() != r.height {
		return
	}
	screen.WritePixels(r.pixels)
}
