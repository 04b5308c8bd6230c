package stream

import "strings"

// frameDelimiter separates complete wire frames. Each frame is a
// "data: <json>" line followed by a blank line.
const frameDelimiter = "\n\n"

// FrameBuffer splits the irregular chunks of a streaming transport into
// complete wire frames. A trailing partial frame is held back until its
// delimiter arrives, so no frame is ever split across two Append calls.
type FrameBuffer struct {
	tail string
}

// NewFrameBuffer creates an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Append adds a chunk of raw transport text and returns the complete frames
// it closed, in order. Whitespace-only fragments between delimiters are
// discarded.
func (fb *FrameBuffer) Append(chunk string) []string {
	data := fb.tail + chunk
	parts := strings.Split(data, frameDelimiter)
	fb.tail = parts[len(parts)-1]

	var frames []string
	for _, part := range parts[:len(parts)-1] {
		if strings.TrimSpace(part) == "" {
			continue
		}
		frames = append(frames, part)
	}
	return frames
}

// Flush returns the pending tail as a best-effort final frame. Used when the
// transport completes without a terminating delimiter.
func (fb *FrameBuffer) Flush() (string, bool) {
	tail := fb.tail
	fb.tail = ""
	if strings.TrimSpace(tail) == "" {
		return "", false
	}
	return tail, true
}

// Pending reports whether an incomplete fragment is being held back.
func (fb *FrameBuffer) Pending() bool {
	return fb.tail != ""
}
