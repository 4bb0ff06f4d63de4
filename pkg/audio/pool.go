// Package audio holds the PCM plumbing shared by the lip-sync analyzer and
// the speech stream: WAV parsing, sample conversions, soxr resampling and
// opus packetisation, with pooled buffers and codec instances.
package audio

import "sync"

// keyedPools hands out one sync.Pool per key.
type keyedPools[K comparable] struct {
	m sync.Map
}

func (k *keyedPools[K]) get(key K) *sync.Pool {
	if pool, ok := k.m.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := k.m.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

type slicePool[T any] struct {
	p sync.Pool
}

func (s *slicePool[T]) acquire(size int) []T {
	if size <= 0 {
		return nil
	}
	if v := s.p.Get(); v != nil {
		buf := v.([]T)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]T, size)
}

func (s *slicePool[T]) release(buf []T) {
	if buf == nil {
		return
	}
	s.p.Put(buf[:0])
}

var (
	bytesPool   slicePool[byte]
	int16Pool   slicePool[int16]
	float32Pool slicePool[float32]
)

// AcquireBytes returns a byte slice with length size.
func AcquireBytes(size int) []byte { return bytesPool.acquire(size) }

// ReleaseBytes puts a byte slice back to the pool.
func ReleaseBytes(buf []byte) { bytesPool.release(buf) }

// AcquireInt16 returns an int16 slice with length size.
func AcquireInt16(size int) []int16 { return int16Pool.acquire(size) }

// ReleaseInt16 puts an int16 slice back to the pool.
func ReleaseInt16(buf []int16) { int16Pool.release(buf) }

// AcquireFloat32 returns a float32 slice with length size.
func AcquireFloat32(size int) []float32 { return float32Pool.acquire(size) }

// ReleaseFloat32 puts a float32 slice back to the pool.
func ReleaseFloat32(buf []float32) { float32Pool.release(buf) }
