package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// orbitCamera circles the particle cloud. Yaw and pitch are in degrees.
type orbitCamera struct {
	yaw      float64
	pitch    float64
	distance float64
}

func newOrbitCamera() *orbitCamera {
	return &orbitCamera{distance: cameraDistance}
}

// orbitInput returns the yaw, pitch and zoom deltas requested by the keyboard.
func orbitInput() (dyaw, dpitch, dzoom float64) {
	if ebiten.IsKeyPressed(ebiten.KeyA) || ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		dyaw -= cameraOrbitStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyD) || ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		dyaw += cameraOrbitStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyW) || ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		dpitch += cameraOrbitStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyS) || ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		dpitch -= cameraOrbitStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyE) || ebiten.IsKeyPressed(ebiten.KeyEqual) {
		dzoom -= cameraZoomStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyQ) || ebiten.IsKeyPressed(ebiten.KeyMinus) {
		dzoom += cameraZoomStep
	}
	_, wheel := ebiten.Wheel()
	dzoom -= wheel * cameraZoomStep * 2
	return dyaw, dpitch, dzoom
}

// update applies keyboard input for one tick.
func (c *orbitCamera) update() {
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		c.reset()
		return
	}
	c.apply(orbitInput())
}

func (c *orbitCamera) apply(dyaw, dpitch, dzoom float64) {
	c.yaw = math.Mod(c.yaw+dyaw, 360)
	c.pitch = math.Max(-cameraMaxPitch, math.Min(cameraMaxPitch, c.pitch+dpitch))
	c.distance = math.Max(cameraMinDistance, math.Min(cameraMaxDistance, c.distance+dzoom))
}

func (c *orbitCamera) reset() {
	*c = orbitCamera{distance: cameraDistance}
}

// eye returns the camera position. With zero yaw and pitch it sits on +Z
// looking at the origin.
func (c *orbitCamera) eye() mgl32.Vec3 {
	yaw := mgl32.DegToRad(float32(c.yaw))
	pitch := mgl32.DegToRad(float32(c.pitch))
	d := float32(c.distance)
	cp := float32(math.Cos(float64(pitch)))
	return mgl32.Vec3{
		d * cp * float32(math.Sin(float64(yaw))),
		d * float32(math.Sin(float64(pitch))),
		d * cp * float32(math.Cos(float64(yaw))),
	}
}

func (c *orbitCamera) view() mgl32.Mat4 {
	return mgl32.LookAtV(c.eye(), mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
}
