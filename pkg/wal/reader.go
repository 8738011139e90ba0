package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
)

type ReaderOptions struct {
	MaxPayload         int  // 单条最大长度
	AllowTruncatedTail bool // 尾部半条记录当作 EOF
	BufferSize         int
}

type Reader struct {
	f   *os.File
	br  *bufio.Reader
	off int64

	maxPayload int
	allowTail  bool

	truncatedTail  bool
	lastGoodOffset int64
}

// OpenReader 从 offset 开始顺序读
func OpenReader(path string, offset int64, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1 << 20
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	return &Reader{
		f:              f,
		br:             bufio.NewReaderSize(f, opts.BufferSize),
		off:            offset,
		maxPayload:     opts.MaxPayload,
		allowTail:      opts.AllowTruncatedTail,
		lastGoodOffset: offset,
	}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) TruncatedTail() bool   { return r.truncatedTail }
func (r *Reader) LastGoodOffset() int64 { return r.lastGoodOffset }

// Next 返回下一条记录和它之后的偏移；读完返回 io.EOF
func (r *Reader) Next() (payload []byte, nextOffset int64, err error) {
	var hdr [headerSize]byte
	if _, err = io.ReadFull(r.br, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, r.off, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, r.off, r.tail(ErrCorruptHeader)
		}
		return nil, r.off, err
	}

	ln := int(binary.LittleEndian.Uint32(hdr[0:4]))
	crc := binary.LittleEndian.Uint32(hdr[4:8])
	if ln > r.maxPayload {
		return nil, r.off, ErrPayloadTooLarge
	}

	payload = make([]byte, ln)
	if _, err = io.ReadFull(r.br, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, r.off, r.tail(ErrCorruptPayload)
		}
		return nil, r.off, err
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return nil, r.off, ErrChecksumMismatch
	}

	r.off += int64(headerSize + ln)
	r.lastGoodOffset = r.off
	return payload, r.off, nil
}

// tail 崩溃时写了一半的尾记录
func (r *Reader) tail(corrupt error) error {
	r.truncatedTail = true
	if r.allowTail {
		return io.EOF
	}
	return corrupt
}
