package utils

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// groupBounds splits [0, totalSize) into numGroups contiguous ranges. The split only depends on
// its inputs, so callers writing results by index get the same output as a sequential loop.
func groupBounds(totalSize, numGroups, groupNum int) (int, int) {
	base := totalSize / numGroups
	extra := totalSize % numGroups
	from := groupNum*base + MinInt(groupNum, extra)
	to := from + base
	if groupNum < extra {
		to++
	}
	return from, to
}

// GroupWorkParallel parallelizes the given size of work over at most ParallelFactor workers. It
// stops scheduling new groups once ctx is done and returns ctx's error in that case.
func GroupWorkParallel(ctx context.Context, totalSize int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return ctx.Err()
	}
	numGroups := MinInt(ParallelFactor, totalSize)

	group, groupCtx := errgroup.WithContext(ctx)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			from, to := groupBounds(totalSize, numGroups, groupNum)
			memberWork, groupWorkDone := groupWork(groupNum, to-from, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					memberWork(memberNum, workNum)
					memberNum++
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
			return nil
		})
	}
	return group.Wait()
}

// ParallelForEachRow calls f for every row in [0, height), spreading contiguous row bands over
// the available workers. f must only write state owned by its row.
func ParallelForEachRow(ctx context.Context, height int, f func(y int)) error {
	return GroupWorkParallel(ctx, height, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(memberNum, workNum int) { f(workNum) }, nil
	})
}

// ParallelForEachIndex runs f for every index in [0, n) with bounded concurrency and returns the
// first error. Results are expected to be written into caller slices by index.
func ParallelForEachIndex(ctx context.Context, n int, f func(ctx context.Context, i int) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ParallelFactor)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return f(groupCtx, i)
		})
	}
	return group.Wait()
}
