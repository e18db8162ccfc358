package event

import (
	"bytes"
	"encoding/json"
	"sync"
)

// bufferPool recycles encode buffers on the publish path.
//
// Usage:
//
//	buf := acquireBuffer()
//	// ... encode into buf ...
//	releaseBuffer(buf)
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// maxPooledBuffer keeps oversized buffers from pinning memory.
const maxPooledBuffer = 64 << 10

func acquireBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func releaseBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// encodeJSON marshals v through a pooled buffer and returns an owned copy.
func encodeJSON(v interface{}) ([]byte, error) {
	buf := acquireBuffer()
	defer releaseBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// drop the trailing newline written by Encoder
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return append([]byte(nil), out...), nil
}

// Warmup pre-allocates encode buffers to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 64

	bufs := make([]*bytes.Buffer, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		b := acquireBuffer()
		b.Grow(2048)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		releaseBuffer(b)
	}
}
