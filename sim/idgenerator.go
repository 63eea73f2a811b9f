package sim

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// An IDGenerator hands out the IDs of traced tasks.
type IDGenerator interface {
	Generate() string
}

var ids struct {
	sync.Mutex
	gen IDGenerator
}

// UseSequentialIDGenerator makes task IDs a counter starting at 1, so that two
// runs of the same workload produce the same IDs. It must be called before the
// first ID is generated.
func UseSequentialIDGenerator() {
	setIDGenerator(&counterIDs{})
}

// UseParallelIDGenerator makes task IDs globally unique xids. It must be
// called before the first ID is generated.
func UseParallelIDGenerator() {
	setIDGenerator(xidIDs{})
}

func setIDGenerator(g IDGenerator) {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen != nil {
		log.Panic("the ID generator is already in use")
	}

	ids.gen = g
}

// GetIDGenerator returns the process-wide ID generator. The counter is used
// unless another generator was chosen.
func GetIDGenerator() IDGenerator {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen == nil {
		ids.gen = &counterIDs{}
	}

	return ids.gen
}

type counterIDs struct {
	last uint64
}

func (g *counterIDs) Generate() string {
	return strconv.FormatUint(atomic.AddUint64(&g.last, 1), 10)
}

type xidIDs struct{}

func (xidIDs) Generate() string {
	return xid.New().String()
}
