package domain

import "fmt"

// PlanBatches partitions a pool for rolling replacement. The batch size is
// the largest number of instances that can be out of service at once
// without dropping healthy capacity below minHealthyFraction of the pool:
// floor(poolSize * (1 - minHealthyFraction)), minimum 1. Input order is
// preserved across batches.
func PlanBatches(pool []InstanceRef, minHealthyFraction float64) ([][]InstanceRef, error) {
	if minHealthyFraction <= 0 || minHealthyFraction > 1 {
		return nil, fmt.Errorf("%w: min healthy fraction %v not in (0,1]", ErrInvalidArgument, minHealthyFraction)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	size := int(float64(len(pool)) * (1 - minHealthyFraction))
	if size < 1 {
		size = 1
	}

	var batches [][]InstanceRef
	for start := 0; start < len(pool); start += size {
		end := start + size
		if end > len(pool) {
			end = len(pool)
		}
		batches = append(batches, pool[start:end])
	}
	return batches, nil
}
