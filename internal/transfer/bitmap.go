package transfer

import (
	"fmt"
)

// ChunkBitmap tracks which chunk indices a transfer has seen, one bit per
// chunk. Membership never goes away: a set bit stays set until the owning
// Transfer is destroyed.
type ChunkBitmap struct {
	totalChunks int64
	bitmap      []byte
	received    int64
}

// NewChunkBitmap creates a bitmap sized for totalChunks.
func NewChunkBitmap(totalChunks int64) *ChunkBitmap {
	bitmapSize := (totalChunks + 7) / 8
	return &ChunkBitmap{
		totalChunks: totalChunks,
		bitmap:      make([]byte, bitmapSize),
	}
}

// Set marks a chunk index as seen. It reports whether the index was newly
// set; an already-set index is the duplicate case.
func (cb *ChunkBitmap) Set(chunkIndex int64) (bool, error) {
	if chunkIndex < 0 || chunkIndex >= cb.totalChunks {
		return false, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, chunkIndex, cb.totalChunks)
	}

	byteIndex := chunkIndex / 8
	bitIndex := chunkIndex % 8

	if cb.bitmap[byteIndex]&(1<<bitIndex) != 0 {
		return false, nil
	}

	cb.bitmap[byteIndex] |= 1 << bitIndex
	cb.received++
	return true, nil
}

// Has checks whether a chunk index has been seen.
func (cb *ChunkBitmap) Has(chunkIndex int64) bool {
	if chunkIndex < 0 || chunkIndex >= cb.totalChunks {
		return false
	}
	byteIndex := chunkIndex / 8
	bitIndex := chunkIndex % 8
	return cb.bitmap[byteIndex]&(1<<bitIndex) != 0
}

// Received returns the number of distinct chunks seen.
func (cb *ChunkBitmap) Received() int64 {
	return cb.received
}

// Total returns the chunk count the bitmap was sized for.
func (cb *ChunkBitmap) Total() int64 {
	return cb.totalChunks
}

// IsComplete checks whether every chunk has been seen.
func (cb *ChunkBitmap) IsComplete() bool {
	return cb.received == cb.totalChunks
}
