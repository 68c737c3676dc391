package chain

import "errors"

// BlockRange is an inclusive span of blocks.
type BlockRange struct {
	From uint64
	To   uint64
}

// Size returns the number of blocks in r.
func (r BlockRange) Size() uint64 {
	return r.To - r.From + 1
}

// SplitRange partitions [from, to] into consecutive ranges of at most step blocks.
func SplitRange(from, to, step uint64) ([]BlockRange, error) {
	if step == 0 {
		return nil, errors.New("step must be greater than zero")
	}
	if to < from {
		return nil, errors.New("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/step+1)
	for start := from; ; start += step {
		if to-start < step {
			return append(ranges, BlockRange{From: start, To: to}), nil
		}
		ranges = append(ranges, BlockRange{From: start, To: start + step - 1})
	}
}
