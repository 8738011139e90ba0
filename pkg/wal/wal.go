package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// 记录格式：len(4) + crc32(4) + payload，小端
const (
	headerSize      = 8
	defaultFilePerm = 0o644
)

// DefaultMaxPayload 防止坏数据把内存吃爆
const DefaultMaxPayload = 4 << 20 // 4MB

var (
	ErrCorruptHeader    = errors.New("wal: corrupt header")
	ErrCorruptPayload   = errors.New("wal: corrupt payload")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal: payload too large")
	ErrWriterClosed     = errors.New("wal: writer closed")
)

// Writer 追加写，可多协程调用
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	off    int64 // 逻辑偏移，包含还在 bufio 里的数据
	closed bool
}

// OpenWrite 打开（或创建）日志文件。
// 上次崩溃留下的半条记录会先被截掉，保证新记录接在完整记录之后
func OpenWrite(path string, buffSize int) (*Writer, error) {
	if buffSize <= 0 {
		buffSize = 1 << 20
	}
	st, err := Replay(path, ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("wal: scan %s: %w", path, err)
	}
	if st.TruncatedTail {
		if err := TruncateTo(path, st.LastGoodOffset); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Writer{
		f:   file,
		bw:  bufio.NewWriterSize(file, buffSize),
		off: stat.Size(),
	}, nil
}

// Append 写一条记录到缓冲，返回写完后的偏移
func (w *Writer) Append(payload []byte) (int64, error) {
	if len(payload) > DefaultMaxPayload {
		return 0, ErrPayloadTooLarge
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.bw.Write(payload); err != nil {
		return 0, err
	}
	w.off += int64(headerSize + len(payload))
	return w.off, nil
}

// Flush 刷出 bufio；sync 为 true 时再 fsync 到磁盘
func (w *Writer) Flush(sync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if sync {
		return w.f.Sync()
	}
	return nil
}

func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.off
}

// Close 刷盘后关闭，可重复调用
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

type ReplayOptions struct {
	MaxPayload int // <=0 则用 DefaultMaxPayload
	// 最后一条记录不完整时当作正常结束
	AllowTruncatedTail bool
}

type ReplayStats struct {
	Records        int
	LastGoodOffset int64
	TruncatedTail  bool
}

// Replay 从头读完整个文件；文件不存在视为空
func Replay(path string, opts ReplayOptions, onRecord func(payload []byte) error) (ReplayStats, error) {
	var st ReplayStats
	r, err := OpenReader(path, 0, ReaderOptions{
		MaxPayload:         opts.MaxPayload,
		AllowTruncatedTail: opts.AllowTruncatedTail,
	})
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	defer r.Close()

	for {
		payload, _, err := r.Next()
		st.LastGoodOffset = r.LastGoodOffset()
		st.TruncatedTail = r.TruncatedTail()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}
		if err := onRecord(payload); err != nil {
			return st, err
		}
		st.Records++
	}
}

// TruncateTo 截断到 offset；文件不存在或 offset 超出长度时什么都不做
func TruncateTo(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("wal: negative truncate offset %d", offset)
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if offset >= st.Size() {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return err
	}
	_ = f.Sync()
	return nil
}
