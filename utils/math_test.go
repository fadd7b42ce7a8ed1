package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestClamp(t *testing.T) {
	test.That(t, Clamp(5, 0, 3), test.ShouldEqual, 3)
	test.That(t, Clamp(-2.5, -1.0, 1.0), test.ShouldEqual, -1.0)
	test.That(t, Clamp(int16(7), 0, 10), test.ShouldEqual, int16(7))
	test.That(t, ClampToUint8(-4), test.ShouldEqual, uint8(0))
	test.That(t, ClampToUint8(254.6), test.ShouldEqual, uint8(255))
	test.That(t, ClampToUint8(300), test.ShouldEqual, uint8(255))
	test.That(t, ClampToUint8(math.NaN()), test.ShouldEqual, uint8(0))
}

func TestMedian(t *testing.T) {
	values := []float64{5, 1, 3}
	test.That(t, Median(values...), test.ShouldEqual, 3.0)
	test.That(t, values[0], test.ShouldEqual, 5.0)
	test.That(t, Median(4, 1, 3, 2), test.ShouldEqual, 2.5)
	test.That(t, math.IsNaN(Median()), test.ShouldBeTrue)
	test.That(t, IsFinite(1, 2), test.ShouldBeTrue)
	test.That(t, IsFinite(1, math.Inf(1)), test.ShouldBeFalse)
}
