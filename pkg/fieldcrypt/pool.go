package fieldcrypt

import (
	"bytes"
	"context"
	"sync"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// BytePool rents and returns byte slices so the pipeline, compression
// adapter, crypto adapter and both the tree and stream processors
// never allocate fresh heap buffers per property (§5 Resource
// policy). The default pool is backed by sync.Pool; callers with
// sharper size buckets (e.g. a fixed-size slab allocator) can supply
// their own.
type BytePool interface {
	Rent(minSize int) []byte
	Return(buf []byte)
}

// defaultBytePool is a sync.Pool of *bytes.Buffer, which amortizes
// allocation across requests while still letting Rent hand back a
// plain []byte with at least minSize capacity.
type defaultBytePool struct {
	pool sync.Pool
}

// NewBytePool returns the package's default, thread-safe BytePool.
func NewBytePool() BytePool {
	return &defaultBytePool{
		pool: sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

func (p *defaultBytePool) Rent(minSize int) []byte {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	if buf.Cap() < minSize {
		buf.Grow(minSize)
	}
	return buf.Bytes()[:0:buf.Cap()]
}

func (p *defaultBytePool) Return(buf []byte) {
	// bytes.NewBuffer(buf[:0]) adopts buf's backing array directly, at
	// zero length, so the capacity survives the round trip through the
	// pool instead of being replaced by a fresh empty Buffer.
	p.pool.Put(bytes.NewBuffer(buf[:0]))
}

// acquisition is a scoped set of buffers rented for a single
// encrypt/decrypt call. release() is guaranteed to run on every exit
// path (success, error, or cancellation) so no buffer escapes its
// request (§5 Resource policy).
type acquisition struct {
	pool   BytePool
	rented [][]byte
}

func newAcquisition(pool BytePool) *acquisition {
	if pool == nil {
		pool = NewBytePool()
	}
	return &acquisition{pool: pool}
}

func (a *acquisition) rent(minSize int) []byte {
	buf := a.pool.Rent(minSize)
	a.rented = append(a.rented, buf)
	return buf
}

// rentExact is for callers that index into the buffer directly
// (ciphertext/plaintext writers) rather than appending to it; it
// rents the same way but reslices the result to exactly n bytes.
func (a *acquisition) rentExact(n int) []byte {
	return a.rent(n)[:n]
}

func (a *acquisition) release() {
	for _, buf := range a.rented {
		a.pool.Return(buf)
	}
	a.rented = nil
}

// checkCancelled surfaces apperr.KindCancelled and releases every
// buffer rented so far, matching §5's cancellation contract.
func (a *acquisition) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		a.release()
		return apperr.Wrap(apperr.KindCancelled, "operation cancelled", err)
	}
	return nil
}
