package transfer

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"hermes/application/http"
	"hermes/application/util/rule"

	"github.com/pkg/errors"
)

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7.1
type Chunk struct {
	Size       uint
	Extensions [][2]string
	data       io.Reader
}

type chunkedCoder struct{}

func NewChunkedCoder() Coder { return chunkedCoder{} }

func (chunkedCoder) Coding() Coding { return CodingChunked }

func (chunkedCoder) NewReader(r io.Reader) io.Reader {
	return NewChunkedReader(r)
}

func (chunkedCoder) NewWriter(w io.WriteCloser) io.WriteCloser {
	return NewChunkedWriter(w)
}

type ChunkedReader struct {
	br    *bufio.Reader
	chunk *Chunk
	read  uint // reset for each chunk

	onTrailerReceived func(f []http.Field)

	done bool
	err  error
}

var _ io.Reader = (*ChunkedReader)(nil)

// NewChunkedReader converts chunked http message into byte stream.
// If r is a [bufio.Reader], it is used directly so no bytes past the last chunk are consumed.
func NewChunkedReader(r io.Reader) *ChunkedReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ChunkedReader{br: br}
}

// SetOnTrailerReceived sets a callback called with the trailer section after the last chunk.
func (cr *ChunkedReader) SetOnTrailerReceived(f func(f []http.Field)) {
	cr.onTrailerReceived = f
}

func (cr *ChunkedReader) LastChunk() *Chunk {
	return cr.chunk
}

func (cr *ChunkedReader) Read(b []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if cr.done {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	if cr.chunk == nil {
		if err := cr.decodeChunk(); err != nil {
			return 0, cr.fail(errors.Wrap(err, "decoding chunk"))
		}

		if cr.chunk.Size == 0 {
			// Last chunk.
			if err := cr.decodeTrailers(); err != nil {
				return 0, cr.fail(errors.Wrap(err, "decoding trailer"))
			}
			cr.done = true
			return 0, io.EOF
		}
	}

	remain := cr.chunk.Size - cr.read
	if uint(len(b)) > remain {
		b = b[:remain]
	}

	n, err := cr.chunk.data.Read(b)
	cr.read += uint(n)
	if err != nil && !(err == io.EOF && cr.read == cr.chunk.Size) {
		return n, cr.fail(errors.Wrap(incomplete(err), "reading chunk data"))
	}

	if cr.read == cr.chunk.Size {
		var crlf [2]byte
		if _, err := io.ReadFull(cr.br, crlf[:]); err != nil {
			return n, cr.fail(errors.Wrap(incomplete(err), "reading chunk delimiter"))
		}

		if !bytes.Equal(crlf[:], rule.CRLF) {
			return n, cr.fail(errors.New("CRLF delimiter not found"))
		}

		cr.chunk = nil
		cr.read = 0
	}

	return n, nil
}

func (cr *ChunkedReader) fail(err error) error {
	cr.err = err
	return err
}

func (cr *ChunkedReader) decodeChunk() error {
	line, err := readLine(cr.br)
	if err != nil {
		return err
	}

	parts := bytes.Split(line, []byte{';'})

	sizeRaw := bytes.TrimFunc(parts[0], rule.IsWhitespace)
	chunkSize, err := decodeChunkSize(sizeRaw)
	if err != nil {
		return errors.Wrap(err, "decoding chunk size")
	}

	// Decode chunk extensions
	parts = parts[1:]
	extensions := make([][2]string, 0)
	for _, part := range parts {
		k, v, _ := bytes.Cut(part, []byte{'='})
		// Trim BWS.
		k = bytes.TrimFunc(k, rule.IsWhitespace)
		v = bytes.TrimFunc(v, rule.IsWhitespace)

		extensions = append(extensions, [2]string{
			string(k),
			string(rule.Unquote(v)),
		})
	}

	cr.chunk = &Chunk{
		Size:       chunkSize,
		Extensions: extensions,
		data:       cr.br,
	}

	return nil
}

func decodeChunkSize(b []byte) (uint, error) {
	if len(b) == 0 {
		return 0, errors.New("chunk size is empty")
	}

	size, err := strconv.ParseUint(string(b), 16, 64)
	if err != nil {
		return 0, errors.Errorf("failed to decode hex: %q", string(b))
	}

	return uint(size), nil
}

func (cr *ChunkedReader) decodeTrailers() error {
	fields := make([]http.Field, 0)
	for {
		line, err := readLine(cr.br)
		if err != nil {
			return errors.Wrap(err, "reading line")
		}

		if len(line) == 0 {
			// Last field.
			break
		}

		// line points into the read buffer.
		field, err := http.ParseField(bytes.Clone(line))
		if err != nil {
			return errors.Wrap(err, "parsing field")
		}

		fields = append(fields, field)
	}

	if cr.onTrailerReceived != nil && len(fields) > 0 {
		cr.onTrailerReceived(fields)
	}

	return nil
}

type ChunkedWriter struct {
	w         io.WriteCloser
	headerBuf *bytes.Buffer

	extensions   [][2]string
	sendTrailers func() []http.Field
}

var _ io.WriteCloser = (*ChunkedWriter)(nil)

func NewChunkedWriter(w io.WriteCloser) *ChunkedWriter {
	return &ChunkedWriter{
		w:         w,
		headerBuf: bytes.NewBuffer(nil),
	}
}

// SetExtensions sets extension to the chunk.
// extension lives until [ChunkedWriter.Write].
func (cw *ChunkedWriter) SetExtensions(extensions [][2]string) {
	cw.extensions = extensions
}

// SetSendTrailers sets a callback whose fields are sent as trailers on [ChunkedWriter.Close].
func (cw *ChunkedWriter) SetSendTrailers(f func() []http.Field) {
	cw.sendTrailers = f
}

func (cw *ChunkedWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		// We should ignore 0 length chunks since it means EOF.
		return 0, nil
	}

	chunk := Chunk{
		Size:       uint(len(p)),
		Extensions: cw.extensions,
		data:       bytes.NewReader(p),
	}

	cw.extensions = nil

	n, err = cw.encodeChunk(chunk)
	if err != nil {
		return n, errors.Wrap(err, "encoding chunk")
	}

	return n, nil
}

// Close writes the last chunk and the trailers, then closes the underlying writer.
func (cw *ChunkedWriter) Close() error {
	chunk := Chunk{
		Size:       0,
		Extensions: cw.extensions,
	}

	if _, err := cw.encodeChunk(chunk); err != nil {
		return errors.Wrap(err, "encoding chunk")
	}

	if err := cw.encodeTrailers(); err != nil {
		return errors.Wrap(err, "encoding trailers")
	}

	return cw.w.Close()
}

func (cw *ChunkedWriter) encodeChunk(chunk Chunk) (n int, err error) {
	// size and extensions
	buf := cw.headerBuf
	buf.Reset()
	buf.Write([]byte(strconv.FormatUint(uint64(chunk.Size), 16)))
	for _, ext := range chunk.Extensions {
		buf.Write([]byte{';'})
		buf.Write([]byte(ext[0]))
		buf.Write([]byte{'='})
		buf.Write([]byte(ext[1]))
	}

	if err := writeLine(cw.w, buf.Bytes()); err != nil {
		return 0, errors.Wrap(err, "writing chunk header")
	}

	if chunk.Size == 0 {
		// Last chunk. only write header.
		return 0, nil
	}

	// chunk data + CRLF
	r := io.MultiReader(chunk.data, bytes.NewReader(rule.CRLF))

	n64, err := io.Copy(cw.w, r)
	if err != nil {
		return n, errors.Wrap(err, "writing data")
	}

	return int(n64) - len(rule.CRLF), nil
}

func (cw *ChunkedWriter) encodeTrailers() error {
	if cw.sendTrailers != nil {
		for _, field := range cw.sendTrailers() {
			if err := writeLine(cw.w, field.Text()); err != nil {
				return errors.Wrap(err, "writing trailer")
			}
		}
	}

	if err := writeLine(cw.w, nil); err != nil {
		return errors.Wrap(err, "writing last trailer line")
	}

	return nil
}

// readLine reads until CRLF and cuts it.
// Lines longer than the reader's buffer are rejected.
func readLine(br *bufio.Reader) (line []byte, err error) {
	line, err = br.ReadSlice(rule.LF)
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, errors.New("line too long")
		}
		return nil, incomplete(err)
	}

	if !bytes.HasSuffix(line, rule.CRLF) {
		return nil, errors.New("line doesn't end with CRLF")
	}

	return line[:len(line)-2], nil
}

func writeLine(w io.Writer, line []byte) error {
	r := bytes.NewReader(append(line, rule.CRLF...))

	_, err := io.Copy(w, r)
	if err != nil {
		return errors.Wrap(err, "writing line")
	}

	return nil
}
