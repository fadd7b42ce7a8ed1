package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestGroupBoundsCoverRange(t *testing.T) {
	for _, total := range []int{1, 7, 64, 481} {
		for _, groups := range []int{1, 3, 8} {
			if groups > total {
				continue
			}
			next := 0
			for g := 0; g < groups; g++ {
				from, to := groupBounds(total, groups, g)
				test.That(t, from, test.ShouldEqual, next)
				test.That(t, to, test.ShouldBeGreaterThan, from)
				next = to
			}
			test.That(t, next, test.ShouldEqual, total)
		}
	}
}

func TestParallelForEachRow(t *testing.T) {
	const height = 257
	out := make([]int, height)
	err := ParallelForEachRow(context.Background(), height, func(y int) {
		out[y] = y * y
	})
	test.That(t, err, test.ShouldBeNil)
	for y := range out {
		test.That(t, out[y], test.ShouldEqual, y*y)
	}
}

func TestParallelForEachIndexStopsOnError(t *testing.T) {
	var calls int32
	err := ParallelForEachIndex(context.Background(), 10, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		if i == 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, atomic.LoadInt32(&calls), test.ShouldBeGreaterThan, 0)
}

func TestGroupWorkParallelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GroupWorkParallel(ctx, 100, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(memberNum, workNum int) {}, nil
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
