package recvbuf

import (
	"fmt"

	"github.com/srtlab/srtgo/seq"
)

// OutOfRange is returned by Push when a sequence number lies too far
// ahead of next-expected to fit in the buffer's capacity.
type OutOfRange struct {
	Seq          seq.Number
	NextExpected seq.Number
	Capacity     int
}

func (e *OutOfRange) Error() string {
	return fmt.Sprintf("recvbuf: seq %v out of range of next-expected %v (capacity %d)",
		e.Seq, e.NextExpected, e.Capacity)
}
