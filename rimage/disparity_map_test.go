package rimage

import (
	"testing"

	"go.viam.com/test"
)

func TestDisparityMapSentinel(t *testing.T) {
	dm := NewDisparityMap(4, 3, 0, 32)
	test.That(t, dm.Invalid(), test.ShouldEqual, int16(-16))
	test.That(t, dm.ValidCount(), test.ShouldEqual, 0)
	test.That(t, dm.Get(10, 10), test.ShouldEqual, dm.Invalid())

	dm.Set(1, 1, 5*DisparityScale+8)
	test.That(t, dm.IsValid(1, 1), test.ShouldBeTrue)
	d, ok := dm.Pixels(1, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldEqual, 5.5)
	_, ok = dm.Pixels(0, 0)
	test.That(t, ok, test.ShouldBeFalse)

	shifted := NewDisparityMap(2, 2, 4, 16)
	test.That(t, shifted.Invalid(), test.ShouldEqual, int16(48))
}

func TestDisparityVisualize(t *testing.T) {
	dm := NewDisparityMap(3, 1, 0, 32)
	dm.Set(1, 0, 16*DisparityScale)
	dm.Set(2, 0, 40*DisparityScale)
	v := dm.Visualize()
	test.That(t, v.Get(0, 0), test.ShouldEqual, uint8(0))
	test.That(t, v.Get(1, 0), test.ShouldEqual, uint8(128))
	test.That(t, v.Get(2, 0), test.ShouldEqual, uint8(255))

	clone := dm.Clone()
	clone.Set(1, 0, 0)
	test.That(t, dm.Get(1, 0), test.ShouldEqual, int16(16*DisparityScale))
}
