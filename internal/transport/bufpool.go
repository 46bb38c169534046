package transport

import "sync"

// outboundFrame is a queued write: a complete envelope (one or two wire
// frames).
type outboundFrame struct {
	frames [][]byte
}

// framePool recycles outboundFrame values to keep the hot publish/push path
// allocation-free under steady load.
type framePool struct {
	pool sync.Pool
}

func newFramePool() *framePool {
	fp := &framePool{}
	fp.pool.New = func() any { return &outboundFrame{} }
	return fp
}

func (p *framePool) get(frames [][]byte) *outboundFrame {
	f := p.pool.Get().(*outboundFrame)
	f.frames = frames
	return f
}

func (p *framePool) put(f *outboundFrame) {
	if f == nil {
		return
	}
	f.frames = nil
	p.pool.Put(f)
}
