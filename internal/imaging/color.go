package imaging

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// GrayLevel returns the display gray level of class c out of numClasses.
//
// Classes are spread evenly over 0..255: class c maps to floor(255*c/(numClasses-1)).
// With a single class every label renders black.
func GrayLevel(c, numClasses int) uint8 {
	if numClasses <= 1 || c <= 0 {
		return 0
	}
	if c >= numClasses-1 {
		return 255
	}
	return uint8(255 * c / (numClasses - 1))
}

// GrayPalette builds the display palette for a label raster with numClasses classes.
//
// Entry c is the opaque gray GrayLevel(c, numClasses). Label values outside the
// palette have no entry; writers never emit them.
func GrayPalette(numClasses int) color.Palette {
	if numClasses < 1 {
		numClasses = 1
	}
	palette := make(color.Palette, numClasses)
	for c := range numClasses {
		v := float64(GrayLevel(c, numClasses)) / 255
		r, g, b := colorful.Color{R: v, G: v, B: v}.Clamped().RGB255()
		palette[c] = color.NRGBA{R: r, G: g, B: b, A: 0xff}
	}
	return palette
}
