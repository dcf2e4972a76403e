package wire

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/mysqlwire/client/internal/mysqlerr"
)

// compressHeaderLen is the 3-byte compressed length + 1-byte sequence id +
// 3-byte uncompressed length header CLIENT_COMPRESS wraps every packet in.
const compressHeaderLen = 7

// compressThreshold is the payload size below which the compressed
// protocol sends data uncompressed (uncompressedLen field set to 0),
// matching the convention every pack MySQL client with CLIENT_COMPRESS
// support follows to avoid expanding tiny packets.
const compressThreshold = 50

// CompressedReader decodes the CLIENT_COMPRESS envelope, handing the
// unwrapped stream to the ordinary packet framer. It buffers one
// decompressed compressed-frame at a time.
type CompressedReader struct {
	src     io.Reader
	pending *bytes.Reader
}

// NewCompressedReader wraps src, which carries CLIENT_COMPRESS-framed bytes.
func NewCompressedReader(src io.Reader) *CompressedReader {
	return &CompressedReader{src: src}
}

// Read implements io.Reader, transparently pulling and decompressing
// further compressed frames from the underlying stream as needed.
func (c *CompressedReader) Read(p []byte) (int, error) {
	for c.pending == nil || c.pending.Len() == 0 {
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	return c.pending.Read(p)
}

func (c *CompressedReader) fill() error {
	header := make([]byte, compressHeaderLen)
	if _, err := io.ReadFull(c.src, header); err != nil {
		return err
	}
	compressedLen := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	uncompressedLen := int(header[4]) | int(header[5])<<8 | int(header[6])<<16
	body := make([]byte, compressedLen)
	if _, err := io.ReadFull(c.src, body); err != nil {
		return mysqlerr.Unexpected("reading compressed frame body", err)
	}
	if uncompressedLen == 0 {
		c.pending = bytes.NewReader(body)
		return nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return mysqlerr.MalformedPacket("invalid zlib stream in compressed frame")
	}
	defer zr.Close()
	out := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return mysqlerr.MalformedPacket("short zlib stream in compressed frame")
	}
	c.pending = bytes.NewReader(out)
	return nil
}

// CompressedWriter wraps dst with the CLIENT_COMPRESS envelope: every Write
// call becomes exactly one compressed frame. seq is the compressed-frame
// sequence counter, distinct from the uncompressed packet sequence id.
type CompressedWriter struct {
	dst io.Writer
	seq byte
}

// NewCompressedWriter wraps dst, which will carry CLIENT_COMPRESS-framed bytes.
func NewCompressedWriter(dst io.Writer) *CompressedWriter {
	return &CompressedWriter{dst: dst}
}

// Write implements io.Writer, compressing p (when it is large enough to be
// worth it) into one CLIENT_COMPRESS frame.
func (c *CompressedWriter) Write(p []byte) (int, error) {
	var body []byte
	uncompressedLen := 0
	if len(p) < compressThreshold {
		body = p
	} else {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(p); err != nil {
			return 0, mysqlerr.Unexpected("compressing frame", err)
		}
		if err := zw.Close(); err != nil {
			return 0, mysqlerr.Unexpected("closing zlib writer", err)
		}
		body = buf.Bytes()
		uncompressedLen = len(p)
	}
	header := []byte{
		byte(len(body)), byte(len(body) >> 8), byte(len(body) >> 16),
		c.seq,
		byte(uncompressedLen), byte(uncompressedLen >> 8), byte(uncompressedLen >> 16),
	}
	c.seq++
	if _, err := c.dst.Write(header); err != nil {
		return 0, mysqlerr.Unexpected("writing compressed frame header", err)
	}
	if _, err := c.dst.Write(body); err != nil {
		return 0, mysqlerr.Unexpected("writing compressed frame body", err)
	}
	return len(p), nil
}
