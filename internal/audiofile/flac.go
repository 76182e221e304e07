// Package audiofile implements just enough of the FLAC container format for
// the audio node catalogue: block-header walking, and payload decoders for
// StreamInfo, VorbisComment, and Picture. Every other block type (Application,
// SeekTable, CueSheet, Padding) is still recognized by header so a walker can
// skip its payload correctly, surfaced as an opaque RawBlock. Grounded on the
// original ufod/crates/audiofile/src/flac/{mod.rs,blocks/*.rs}'s block-type
// enum and header layout.
package audiofile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the 4-byte marker every FLAC stream begins with.
const Magic = "fLaC"

// BlockType is METADATA_BLOCK_HEADER's 7-bit block type field.
type BlockType uint8

const (
	BlockStreamInfo    BlockType = 0
	BlockPadding       BlockType = 1
	BlockApplication   BlockType = 2
	BlockSeekTable     BlockType = 3
	BlockVorbisComment BlockType = 4
	BlockCueSheet      BlockType = 5
	BlockPicture       BlockType = 6
	blockInvalid       BlockType = 127
)

func (t BlockType) String() string {
	switch t {
	case BlockStreamInfo:
		return "StreamInfo"
	case BlockPadding:
		return "Padding"
	case BlockApplication:
		return "Application"
	case BlockSeekTable:
		return "SeekTable"
	case BlockVorbisComment:
		return "VorbisComment"
	case BlockCueSheet:
		return "CueSheet"
	case BlockPicture:
		return "Picture"
	default:
		return fmt.Sprintf("Reserved(%d)", uint8(t))
	}
}

// BlockHeader is one METADATA_BLOCK_HEADER: a last-block flag, a 7-bit type,
// and a 24-bit big-endian payload length.
type BlockHeader struct {
	Type    BlockType
	IsLast  bool
	Length  uint32
}

// ReadMagic consumes and validates the 4-byte stream marker.
func ReadMagic(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("audiofile: reading magic: %w", err)
	}
	if string(buf[:]) != Magic {
		return fmt.Errorf("audiofile: not a FLAC stream (got magic %q)", buf[:])
	}
	return nil
}

// WriteMagic writes the 4-byte stream marker.
func WriteMagic(w io.Writer) error {
	_, err := w.Write([]byte(Magic))
	return err
}

// ReadBlockHeader reads one 4-byte metadata block header.
func ReadBlockHeader(r io.Reader) (BlockHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BlockHeader{}, fmt.Errorf("audiofile: reading block header: %w", err)
	}
	isLast := buf[0]&0x80 != 0
	typ := BlockType(buf[0] &^ 0x80)
	if typ == blockInvalid {
		return BlockHeader{}, fmt.Errorf("audiofile: invalid block type 127")
	}
	length := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return BlockHeader{Type: typ, IsLast: isLast, Length: length}, nil
}

// EncodeBlockHeader serialises a block header back to its 4-byte wire form.
func EncodeBlockHeader(h BlockHeader) []byte {
	b0 := byte(h.Type)
	if h.IsLast {
		b0 |= 0x80
	}
	return []byte{b0, byte(h.Length >> 16), byte(h.Length >> 8), byte(h.Length)}
}

// RawBlock is an undecoded metadata block: its header and raw payload bytes.
// StripTags uses this to walk past block types it does not need to interpret.
type RawBlock struct {
	Header BlockHeader
	Data   []byte
}

// ReadRawBlock reads one block header and its full payload.
func ReadRawBlock(r io.Reader) (RawBlock, error) {
	h, err := ReadBlockHeader(r)
	if err != nil {
		return RawBlock{}, err
	}
	data := make([]byte, h.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return RawBlock{}, fmt.Errorf("audiofile: reading %s payload: %w", h.Type, err)
	}
	return RawBlock{Header: h, Data: data}, nil
}

// StreamInfo is the mandatory first metadata block of every FLAC stream.
type StreamInfo struct {
	MinBlockSize  uint16
	MaxBlockSize  uint16
	MinFrameSize  uint32
	MaxFrameSize  uint32
	SampleRate    uint32
	Channels      uint8
	BitsPerSample uint8
	TotalSamples  uint64
	MD5           [16]byte
}

// DecodeStreamInfo parses a 34-byte StreamInfo payload.
func DecodeStreamInfo(data []byte) (StreamInfo, error) {
	if len(data) != 34 {
		return StreamInfo{}, fmt.Errorf("audiofile: StreamInfo payload must be 34 bytes, got %d", len(data))
	}
	var si StreamInfo
	si.MinBlockSize = binary.BigEndian.Uint16(data[0:2])
	si.MaxBlockSize = binary.BigEndian.Uint16(data[2:4])
	si.MinFrameSize = uint32(data[4])<<16 | uint32(data[5])<<8 | uint32(data[6])
	si.MaxFrameSize = uint32(data[7])<<16 | uint32(data[8])<<8 | uint32(data[9])

	packed := binary.BigEndian.Uint64(data[10:18])
	si.SampleRate = uint32(packed >> 44)
	si.Channels = uint8((packed>>41)&0x7) + 1
	si.BitsPerSample = uint8((packed>>36)&0x1f) + 1
	si.TotalSamples = packed & 0xfffffffff

	copy(si.MD5[:], data[18:34])
	return si, nil
}

// EncodeStreamInfo serialises a StreamInfo struct back to its 34-byte form.
func EncodeStreamInfo(si StreamInfo) []byte {
	data := make([]byte, 34)
	binary.BigEndian.PutUint16(data[0:2], si.MinBlockSize)
	binary.BigEndian.PutUint16(data[2:4], si.MaxBlockSize)
	data[4], data[5], data[6] = byte(si.MinFrameSize>>16), byte(si.MinFrameSize>>8), byte(si.MinFrameSize)
	data[7], data[8], data[9] = byte(si.MaxFrameSize>>16), byte(si.MaxFrameSize>>8), byte(si.MaxFrameSize)

	packed := uint64(si.SampleRate)<<44 | uint64(si.Channels-1)<<41 | uint64(si.BitsPerSample-1)<<36 | (si.TotalSamples & 0xfffffffff)
	binary.BigEndian.PutUint64(data[10:18], packed)
	copy(data[18:34], si.MD5[:])
	return data
}

// VorbisComment is the FLAC VORBIS_COMMENT metadata block: a vendor string
// plus an ordered list of "KEY=value" comment entries.
type VorbisComment struct {
	Vendor   string
	Comments []string
}

// Get returns the value of the first comment whose key matches (case
// insensitive), per the Vorbis comment convention.
func (v VorbisComment) Get(key string) (string, bool) {
	prefix := []byte(key)
	for _, c := range v.Comments {
		idx := bytes.IndexByte([]byte(c), '=')
		if idx < 0 {
			continue
		}
		if len(prefix) == idx && bytesEqualFold([]byte(c[:idx]), prefix) {
			return c[idx+1:], true
		}
	}
	return "", false
}

func bytesEqualFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// DecodeVorbisComment parses a VORBIS_COMMENT payload: little-endian
// length-prefixed strings, per the Vorbis comment header spec (Ogg's
// convention, reused verbatim by FLAC).
func DecodeVorbisComment(data []byte) (VorbisComment, error) {
	r := bytes.NewReader(data)
	vendor, err := readLenString(r)
	if err != nil {
		return VorbisComment{}, fmt.Errorf("audiofile: VorbisComment vendor: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return VorbisComment{}, fmt.Errorf("audiofile: VorbisComment comment count: %w", err)
	}
	comments := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		c, err := readLenString(r)
		if err != nil {
			return VorbisComment{}, fmt.Errorf("audiofile: VorbisComment comment %d: %w", i, err)
		}
		comments = append(comments, c)
	}
	return VorbisComment{Vendor: vendor, Comments: comments}, nil
}

func readLenString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Picture is a decoded METADATA_BLOCK_PICTURE.
type Picture struct {
	PictureType uint32
	Mime        string
	Description string
	Width       uint32
	Height      uint32
	Depth       uint32
	ColorCount  uint32
	Data        []byte
}

// DecodePicture parses a PICTURE payload: every field is a big-endian,
// length-prefixed value per the FLAC spec (unlike VorbisComment, which
// inherits Vorbis's little-endian convention).
func DecodePicture(data []byte) (Picture, error) {
	r := bytes.NewReader(data)
	var p Picture
	if err := binary.Read(r, binary.BigEndian, &p.PictureType); err != nil {
		return Picture{}, err
	}
	mime, err := readBELenString(r)
	if err != nil {
		return Picture{}, fmt.Errorf("audiofile: Picture mime: %w", err)
	}
	p.Mime = mime
	desc, err := readBELenString(r)
	if err != nil {
		return Picture{}, fmt.Errorf("audiofile: Picture description: %w", err)
	}
	p.Description = desc
	for _, field := range []*uint32{&p.Width, &p.Height, &p.Depth, &p.ColorCount} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return Picture{}, err
		}
	}
	var dataLen uint32
	if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
		return Picture{}, err
	}
	p.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, p.Data); err != nil {
		return Picture{}, fmt.Errorf("audiofile: Picture data: %w", err)
	}
	return p, nil
}

func readBELenString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
