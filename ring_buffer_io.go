package bytering

import (
	"errors"
	"io"
)

// maxConsecutiveEmptyReads bounds the number of (0, nil) reads tolerated by ReadFrom.
const maxConsecutiveEmptyReads = 100

var (
	_ io.Reader     = (*RingBuffer)(nil)
	_ io.Writer     = (*RingBuffer)(nil)
	_ io.ReaderFrom = (*RingBuffer)(nil)
	_ io.WriterTo   = (*RingBuffer)(nil)
)

// Write enqueues all of p. Nothing is written if p does not fit:
// it returns [ErrBufferFull], or [ErrInert] if the buffer has no storage.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if rb.IsInert() {
		return 0, ErrInert
	}

	if !rb.Enqueue(p) {
		return 0, ErrBufferFull
	}

	return len(p), nil
}

// Read dequeues up to len(p) bytes into p.
// It returns [io.EOF] when the buffer is empty.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if rb.IsInert() {
		return 0, ErrInert
	}

	n := min(uint64(len(p)), rb.Len())
	if n == 0 {
		return 0, io.EOF
	}

	rb.Dequeue(p[:n])

	return int(n), nil
}

// Fill performs a single Read from r straight into the free storage
// at the write position and commits the bytes read.
// It returns [ErrBufferFull] without calling r when there is no free space.
func (rb *RingBuffer) Fill(r io.Reader) (int, error) {
	if rb.IsInert() {
		return 0, ErrInert
	}

	buf := rb.DirectEnqueueBuf()
	if len(buf) == 0 {
		return 0, ErrBufferFull
	}

	n, err := r.Read(buf)
	if n < 0 || n > len(buf) {
		return 0, errInvalidRead
	}

	rb.AdvanceWriteIndex(uint64(n))

	return n, err
}

// ReadFrom reads from r until io.EOF or until the buffer is full.
// Data is read directly into the storage without intermediate copies.
//
// A full buffer is reported as [ErrBufferFull] together with the bytes read so far.
func (rb *RingBuffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64

	emptyReads := 0
	for {
		n, err := rb.Fill(r)
		total += int64(n)

		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}

		if n > 0 {
			emptyReads = 0
			continue
		}

		emptyReads++
		if emptyReads >= maxConsecutiveEmptyReads {
			return total, io.ErrNoProgress
		}
	}
}

// WriteTo drains the stored bytes into w, reading them directly from the storage.
// At most two writes are needed, one per side of the wrap point.
// Bytes accepted by w are consumed even if an error is returned.
func (rb *RingBuffer) WriteTo(w io.Writer) (int64, error) {
	if rb.IsInert() {
		return 0, ErrInert
	}

	var total int64
	for rb.Len() > 0 {
		buf := rb.DirectDequeueBuf()

		n, err := w.Write(buf)
		if n < 0 || n > len(buf) {
			return total, errInvalidWrite
		}

		rb.AdvanceReadIndex(uint64(n))
		total += int64(n)

		if err != nil {
			return total, err
		}

		if n != len(buf) {
			return total, io.ErrShortWrite
		}
	}

	return total, nil
}

// Bytes returns a copy of the stored bytes without consuming them.
func (rb *RingBuffer) Bytes() []byte {
	if rb.Len() == 0 {
		return nil
	}

	buf := make([]byte, rb.Len())
	rb.Peek(buf)

	return buf
}
