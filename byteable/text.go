package byteable

import "github.com/chronostore/kernel/sink"

// Text is a UTF-8 string, optionally a zero-copy view (buf, start, end)
// into a larger buffer — used so corpus substring enumeration need not
// allocate a new string per candidate substring.
type Text struct {
	buf        []byte
	start, end int
}

// NewText wraps s as a standalone Text.
func NewText(s string) Text {
	b := []byte(s)
	return Text{buf: b, start: 0, end: len(b)}
}

// NewTextView constructs a Text that views buf[start:end] without copying.
// The caller must keep buf alive for the view's lifetime.
func NewTextView(buf []byte, start, end int) Text {
	return Text{buf: buf, start: start, end: end}
}

// DecodeText reconstructs a Text from a byte window, per the Byteable
// reconstruction contract: the window is taken as the view directly (no
// copy), since the caller already owns and has sized it correctly.
func DecodeText(window []byte) Text {
	return Text{buf: window, start: 0, end: len(window)}
}

func (t Text) String() string { return string(t.buf[t.start:t.end]) }

func (t Text) Size() int { return t.end - t.start }

func (t Text) CopyTo(s sink.Sink) error {
	return s.PutBytes(t.buf[t.start:t.end])
}

// Bytes returns the raw UTF-8 bytes of the view, without copying.
func (t Text) Bytes() []byte { return t.buf[t.start:t.end] }

// Equal compares two Texts by content, not by identity of the backing
// buffer — two views over different parent arrays with the same bytes are
// equal.
func (t Text) Equal(o Text) bool {
	a, b := t.Bytes(), o.Bytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
