package kernel

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

// An Access is one user memory access of a process.
type Access struct {
	VAddr uint64
	Write bool
	Value uint32
}

// SequentialAccesses returns n accesses starting at start, stride bytes
// apart.
func SequentialAccesses(start uint64, n int, stride uint64, write bool) []Access {
	accesses := make([]Access, n)
	for i := range accesses {
		accesses[i] = Access{
			VAddr: start + uint64(i)*stride,
			Write: write,
			Value: uint32(i),
		}
	}

	return accesses
}

// InterleaveWrites turns a share ratio of the accesses into writes, spread
// evenly over the sequence. Accesses below writableFrom, the read-only text,
// stay reads.
func InterleaveWrites(accesses []Access, ratio float64, writableFrom uint64) {
	for i := range accesses {
		if accesses[i].VAddr < writableFrom {
			continue
		}

		if int(float64(i+1)*ratio) > int(float64(i)*ratio) {
			accesses[i].Write = true
		}
	}
}

// RandomAccesses returns n accesses to addresses in [start, end). A share
// writeRatio of them are writes.
func RandomAccesses(
	rng *rand.Rand,
	n int,
	start, end uint64,
	writeRatio float64,
) []Access {
	if end <= start {
		return nil
	}

	accesses := make([]Access, n)
	for i := range accesses {
		accesses[i] = Access{
			VAddr: start + uint64(rng.Int63n(int64(end-start))),
			Write: rng.Float64() < writeRatio,
			Value: rng.Uint32(),
		}
	}

	return accesses
}

// ParseTrace reads one access per line: "r <addr>" or "w <addr> <value>".
// Numbers can be decimal, or hexadecimal with a 0x prefix. Blank lines and
// lines starting with # are skipped.
func ParseTrace(r io.Reader) ([]Access, error) {
	var accesses []Access

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		a, err := parseTraceLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		accesses = append(accesses, a)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return accesses, nil
}

func parseTraceLine(line string) (Access, error) {
	fields := strings.Fields(line)

	switch {
	case fields[0] == "r" && len(fields) == 2:
		addr, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return Access{}, err
		}

		return Access{VAddr: addr}, nil
	case fields[0] == "w" && len(fields) == 3:
		addr, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return Access{}, err
		}

		value, err := strconv.ParseUint(fields[2], 0, 32)
		if err != nil {
			return Access{}, err
		}

		return Access{VAddr: addr, Write: true, Value: uint32(value)}, nil
	default:
		return Access{}, fmt.Errorf("cannot parse %q", line)
	}
}
