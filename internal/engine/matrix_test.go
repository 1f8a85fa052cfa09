package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixInvertRoundTrip(t *testing.T) {
	m := ViewMatrix(1.44, 35, -20, 90, 400, 300)
	inv := m.Invert()

	x, y := m.TransformPoint(123, 456)
	bx, by := inv.TransformPoint(x, y)
	assert.InDelta(t, 123, bx, 1e-9)
	assert.InDelta(t, 456, by, 1e-9)
}

func TestViewMatrixIdentityAtRest(t *testing.T) {
	assert.True(t, ViewMatrix(1, 0, 0, 0, 400, 300).IsIdentity())
}

func TestViewMatrixZoomsAroundCentre(t *testing.T) {
	m := ViewMatrix(2, 0, 0, 0, 400, 300)

	x, y := m.TransformPoint(400, 300)
	assert.InDelta(t, 400, x, 1e-9)
	assert.InDelta(t, 300, y, 1e-9)

	x, y = m.TransformPoint(500, 300)
	assert.InDelta(t, 600, x, 1e-9)
	assert.InDelta(t, 300, y, 1e-9)
}

func TestRotateQuarterTurnIsExact(t *testing.T) {
	x, y := RotateDegrees(90).TransformPoint(1, 0)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 1.0, y)
}

func TestTransformRect(t *testing.T) {
	r := Translate(10, 20).Multiply(Scale(2, 2)).TransformRect(Rect{Width: 5, Height: 5})
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 10, Height: 10}, r)
}
