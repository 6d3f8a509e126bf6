package main

import "time"

// Window, analysis and rendering defaults. The camera and particle placement
// reproduce the original demo scene: a 60° perspective camera 500 units back,
// the cloud lowered by 128 units and turning slowly about its vertical axis.
const (
	windowWidth         = 960
	windowHeight        = 540
	windowTitle         = "Audio Reactive Particles"
	defaultTPS          = 60
	refreshInterval     = time.Second / defaultTPS
	lowPerformanceFFT   = 256
	audioSampleRate     = 48000
	defaultMaxSeedDim   = 512
	cameraFOVDegrees    = 60
	cameraDistance      = 500
	cameraNear          = 1
	cameraFar           = 4000
	cloudOffsetY        = -128
	cloudSpinPerFrame   = -0.1 // degrees
	cameraOrbitStep     = 1.5  // degrees per tick
	cameraZoomStep      = 8
	cameraMinDistance   = 50
	cameraMaxDistance   = 2000
	cameraMaxPitch      = 85
	demoMinPower        = 510.5
	demoMaxPower        = 633.55
	startTimeout        = 2 * time.Minute
	hudLineHeight       = 16
	particleBrightness  = 0.55
	elevationColorRange = 96
)
