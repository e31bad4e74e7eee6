package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderDrawsBars(t *testing.T) {
	p := DefaultPage()
	img := p.Render()
	assert.Equal(t, 1000, img.W)
	assert.Equal(t, 3, img.C)

	assert.Equal(t, uint8(0), img.At(150, 200, 0))
	assert.Equal(t, uint8(0), img.At(849, 207, 2))
	assert.Equal(t, uint8(255), img.At(850, 200, 0))
	assert.Equal(t, uint8(255), img.At(500, 208, 1))
	assert.Equal(t, uint8(255), img.At(500, 1199, 0))
	assert.Equal(t, uint8(0), img.At(500, 1100, 0))
}

func TestBowAndGaps(t *testing.T) {
	p := DefaultPage()
	p.Bow = 10
	p.WordWidth, p.Gap = 50, 10

	assert.Equal(t, 200, p.LineTop(0, p.Left))
	assert.Equal(t, 210, p.LineTop(0, 500))

	img := p.Render()
	assert.Equal(t, uint8(0), img.At(p.Left+10, 200, 0))
	assert.Equal(t, uint8(255), img.At(p.Left+55, p.LineTop(0, p.Left+55)+1, 0), "inside a gap")
}

func TestBlank(t *testing.T) {
	img := Blank(3, 2)
	for _, v := range img.Pix {
		assert.Equal(t, uint8(255), v)
	}
}
