package gateway

import "unicode/utf8"

const (
	TruncatedMarker = "\n...truncated"
	NoOutput        = "(no output)"
)

// truncateHead keeps at most max bytes from the start without splitting a rune.
func truncateHead(out []byte, max int) ([]byte, bool) {
	if max <= 0 || len(out) <= max {
		return out, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut], true
}

// BoundHead caps an output assembled from several results the way Execute
// caps a single one: head kept, TruncatedMarker appended when anything was cut.
func BoundHead(out string, max int) (string, bool) {
	b, cut := truncateHead([]byte(out), max)
	if !cut {
		return out, false
	}
	return string(b) + TruncatedMarker, true
}

// truncateTail keeps at most max bytes from the end without splitting a rune.
func truncateTail(out []byte, max int) ([]byte, bool) {
	if max <= 0 || len(out) <= max {
		return out, false
	}
	start := len(out) - max
	for start < len(out) && !utf8.RuneStart(out[start]) {
		start++
	}
	return out[start:], true
}

// captureBuffer bounds memory while a child is still writing. Head mode drops
// everything past limit; tail mode keeps a sliding window of the last limit bytes.
type captureBuffer struct {
	mode    Truncation
	limit   int
	buf     []byte
	dropped bool
}

func newCaptureBuffer(mode Truncation, limit int) *captureBuffer {
	return &captureBuffer{mode: mode, limit: limit}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit <= 0 {
		b.buf = append(b.buf, p...)
		return n, nil
	}

	switch b.mode {
	case TruncateTail:
		b.buf = append(b.buf, p...)
		if len(b.buf) > 2*b.limit {
			b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.limit:]...)
			b.dropped = true
		}
	default:
		room := b.limit - len(b.buf)
		if room <= 0 {
			b.dropped = true
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			b.dropped = true
		}
		b.buf = append(b.buf, p...)
	}
	return n, nil
}

func (b *captureBuffer) Bytes() []byte {
	if b.mode == TruncateTail && b.limit > 0 && len(b.buf) > b.limit {
		b.dropped = true
		return b.buf[len(b.buf)-b.limit:]
	}
	return b.buf
}
