package bridge

// bufferCap bounds each direction's audio buffer. At 20 ms per Telco
// frame this is about three seconds of audio.
const bufferCap = 150

// frameBuffer is a bounded FIFO of base64 audio chunks. On overflow the
// oldest frame is dropped so recency is preserved. Not safe for
// concurrent use; the session guards it with its own mutex.
type frameBuffer struct {
	frames  []string
	dropped int
}

func (b *frameBuffer) push(frame string) {
	if len(b.frames) >= bufferCap {
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, frame)
}

// drain returns the buffered frames in arrival order and empties the
// buffer.
func (b *frameBuffer) drain() []string {
	frames := b.frames
	b.frames = nil
	return frames
}

// discard empties the buffer, returning how many frames were thrown away.
func (b *frameBuffer) discard() int {
	n := len(b.frames)
	b.frames = nil
	return n
}

func (b *frameBuffer) len() int {
	return len(b.frames)
}
