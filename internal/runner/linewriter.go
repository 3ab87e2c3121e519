package runner

import "strings"

// lineWriter splits a stream of writes on newlines and forwards complete
// lines to a callback.
type lineWriter struct {
	cb  LogCallback
	buf strings.Builder
}

func newLineWriter(cb LogCallback) *lineWriter {
	return &lineWriter{cb: cb}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	pending := w.buf.String()
	for {
		idx := strings.IndexByte(pending, '\n')
		if idx < 0 {
			break
		}
		w.cb(strings.TrimSuffix(pending[:idx], "\r"))
		pending = pending[idx+1:]
	}
	w.buf.Reset()
	w.buf.WriteString(pending)
	return len(p), nil
}
