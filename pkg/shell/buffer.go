package shell

import "bytes"

// LimitedBuffer keeps the first Limit bytes and silently drops the rest, so
// a chatty process never blocks on a full pipe.
type LimitedBuffer struct {
	buf     bytes.Buffer
	Limit   int64
	dropped bool
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	room := b.Limit - int64(b.buf.Len())
	switch {
	case room <= 0:
		b.dropped = b.dropped || len(p) > 0
	case int64(len(p)) > room:
		b.buf.Write(p[:room])
		b.dropped = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

// Truncated reports whether anything was dropped.
func (b *LimitedBuffer) Truncated() bool {
	return b.dropped
}

func (b *LimitedBuffer) String() string {
	return b.buf.String()
}
