package bridge

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the current goroutine's id, parsed from the header
// line of runtime.Stack ("goroutine 123 [running]:"). Returns 0 if the
// header cannot be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
