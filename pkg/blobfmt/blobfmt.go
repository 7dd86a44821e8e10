// Package blobfmt reads and writes the checksummed envelope wrapped around
// every metadata blob in a repository. The envelope is self-describing, so a
// reader needs no out-of-band knowledge to decode a blob written with
// different settings:
//
//	4 bytes  magic "SVB1"
//	1 byte   flags (bit 0: zstd-compressed payload)
//	N bytes  JSON payload
//	8 bytes  big-endian xxhash64 of everything above
//
// The trailing checksum covers the header as well, so bit flips and truncated
// uploads both surface as ErrChecksumMismatch instead of JSON parse noise.
package blobfmt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/treeverse/snapvault/pkg/block"
)

var (
	ErrBadEnvelope      = errors.New("malformed blob envelope")
	ErrChecksumMismatch = errors.New("blob checksum mismatch")
)

var magic = []byte("SVB1")

const (
	flagsOffset = len("SVB1")
	headerLen   = flagsOffset + 1
	footerLen   = 8

	flagCompressed = 1 << 0
)

// Shared zstd coders. Only EncodeAll and DecodeAll are used, which are safe
// for concurrent callers.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(err)
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic(err)
	}
}

// Codec encodes values into envelopes and back. The compress setting applies
// to writes only; reads honor whatever the envelope flags say.
type Codec struct {
	compress bool
}

func NewCodec(compress bool) *Codec {
	return &Codec{compress: compress}
}

func (c *Codec) Encode(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var flags byte
	if c.compress {
		payload = zstdEncoder.EncodeAll(payload, nil)
		flags |= flagCompressed
	}
	buf := make([]byte, 0, headerLen+len(payload)+footerLen)
	buf = append(buf, magic...)
	buf = append(buf, flags)
	buf = append(buf, payload...)
	var footer [footerLen]byte
	binary.BigEndian.PutUint64(footer[:], xxhash.Sum64(buf))
	return append(buf, footer[:]...), nil
}

func (c *Codec) Decode(data []byte, v interface{}) error {
	if len(data) < headerLen+footerLen {
		return fmt.Errorf("%w: %d bytes", ErrBadEnvelope, len(data))
	}
	if !bytes.Equal(data[:flagsOffset], magic) {
		return fmt.Errorf("%w: bad magic", ErrBadEnvelope)
	}
	body := data[:len(data)-footerLen]
	expected := binary.BigEndian.Uint64(data[len(data)-footerLen:])
	if actual := xxhash.Sum64(body); actual != expected {
		return fmt.Errorf("%w: expected %016x got %016x", ErrChecksumMismatch, expected, actual)
	}
	flags := data[flagsOffset]
	if flags&^byte(flagCompressed) != 0 {
		return fmt.Errorf("%w: unknown flags 0x%02x", ErrBadEnvelope, flags)
	}
	payload := body[headerLen:]
	if flags&flagCompressed != 0 {
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrBadEnvelope, err)
		}
	}
	return json.Unmarshal(payload, v)
}

// Read fetches the named blob and decodes it into v.
func (c *Codec) Read(ctx context.Context, container block.Container, name string, v interface{}) error {
	reader, err := container.Get(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := c.Decode(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Write encodes v and puts it under name.
func (c *Codec) Write(ctx context.Context, container block.Container, name string, v interface{}, opts block.PutOpts) error {
	data, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return container.Put(ctx, name, bytes.NewReader(data), int64(len(data)), opts)
}

// WriteAtomic encodes v and puts it under name so that the blob is never
// observable in a partially written state.
func (c *Codec) WriteAtomic(ctx context.Context, container block.Container, name string, v interface{}, opts block.PutOpts) error {
	data, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return container.PutAtomic(ctx, name, bytes.NewReader(data), int64(len(data)), opts)
}
