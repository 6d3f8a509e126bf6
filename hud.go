package main

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"
)

var (
	hudFace       = text.NewGoXFace(basicfont.Face7x13)
	hudLabelColor = color.RGBA{190, 190, 190, 255}
	hudValueColor = color.RGBA{0, 220, 90, 255}
)

// drawHUD prints playback progress and, with -debug, loop timing.
func (g *Game) drawHUD(screen *ebiten.Image) {
	y := 4.0
	line := func(label, value string) {
		op := &text.DrawOptions{}
		op.GeoM.Translate(8, y)
		op.ColorScale.ScaleWithColor(hudLabelColor)
		text.Draw(screen, label, hudFace, op)

		op = &text.DrawOptions{}
		op.GeoM.Translate(8+text.Advance(label, hudFace)+6, y)
		op.ColorScale.ScaleWithColor(hudValueColor)
		text.Draw(screen, value, hudFace, op)
		y += hudLineHeight
	}

	line("progress", fmt.Sprintf("%6.2f%%", g.renderer.progress))
	if !*debugFlag {
		return
	}
	line("frequency", fmt.Sprintf("%.2f", g.renderer.frequency))
	line("frames", fmt.Sprintf("%d", g.renderer.frames))
	line("fps", fmt.Sprintf("%.1f (%.1f tps)", ebiten.ActualFPS(), ebiten.ActualTPS()))
	line("camera", fmt.Sprintf("yaw %.0f pitch %.0f dist %.0f", g.camera.yaw, g.camera.pitch, g.camera.distance))
}
