package tray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// IconSize is the edge length of the generated icon in pixels.
const IconSize = 64

var (
	activeFill = color.NRGBA{R: 0x4a, G: 0x90, B: 0xd9, A: 0xff}
	pausedFill = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	glyphColor = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// roundedMask is an alpha mask for a rounded square.
type roundedMask struct {
	size, radius int
}

func (m roundedMask) ColorModel() color.Model { return color.AlphaModel }
func (m roundedMask) Bounds() image.Rectangle { return image.Rect(0, 0, m.size, m.size) }

func (m roundedMask) At(x, y int) color.Color {
	r := m.radius
	cx, cy := -1, -1
	switch {
	case x < r:
		cx = r
	case x >= m.size-r:
		cx = m.size - r - 1
	}
	switch {
	case y < r:
		cy = r
	case y >= m.size-r:
		cy = m.size - r - 1
	}
	if cx < 0 || cy < 0 {
		return color.Alpha{A: 0xff}
	}
	dx, dy := x-cx, y-cy
	if dx*dx+dy*dy <= r*r {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}

// RenderIcon draws the tray image: a rounded square with a bold "K".
// Paused state is drawn in gray.
func RenderIcon(size int, paused bool) (*image.NRGBA, error) {
	if size < 16 {
		return nil, fmt.Errorf("icon size %d is too small", size)
	}
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fill := activeFill
	if paused {
		fill = pausedFill
	}
	mask := roundedMask{size: size, radius: size / 5}
	draw.DrawMask(img, img.Bounds(), image.NewUniform(fill), image.Point{}, mask, image.Point{}, draw.Over)

	parsed, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse icon font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(size) * 0.62,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create icon font face: %w", err)
	}
	defer face.Close()

	d := &font.Drawer{Dst: img, Src: image.NewUniform(glyphColor), Face: face}
	bounds, _ := d.BoundString("K")
	w := (bounds.Max.X - bounds.Min.X).Ceil()
	h := (bounds.Max.Y - bounds.Min.Y).Ceil()
	x := (size-w)/2 - bounds.Min.X.Floor()
	y := (size-h)/2 - bounds.Min.Y.Floor()
	d.Dot = fixed.P(x, y)
	d.DrawString("K")
	return img, nil
}

// Icon returns the tray icon as an ICO file wrapping a PNG image, which is
// what the Windows notification area expects.
func Icon(paused bool) ([]byte, error) {
	img, err := RenderIcon(IconSize, paused)
	if err != nil {
		return nil, err
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encode icon png: %w", err)
	}
	return EncodeICO(pngBuf.Bytes(), IconSize)
}

const (
	icoHeaderSize = 6
	icoEntrySize  = 16
)

// EncodeICO wraps one PNG image in an ICO container.
func EncodeICO(pngData []byte, size int) ([]byte, error) {
	if size <= 0 || size > 256 {
		return nil, fmt.Errorf("ico image size %d out of range", size)
	}
	dim := byte(size)
	if size == 256 {
		dim = 0
	}
	var buf bytes.Buffer
	buf.Grow(icoHeaderSize + icoEntrySize + len(pngData))
	header := struct {
		Reserved, Type, Count uint16
	}{0, 1, 1}
	entry := struct {
		Width, Height, Colors, Reserved uint8
		Planes, BitCount                uint16
		Size, Offset                    uint32
	}{dim, dim, 0, 0, 1, 32, uint32(len(pngData)), icoHeaderSize + icoEntrySize}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, entry); err != nil {
		return nil, err
	}
	buf.Write(pngData)
	return buf.Bytes(), nil
}
