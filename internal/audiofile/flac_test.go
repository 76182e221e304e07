package audiofile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMagicRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMagic(&buf))
	require.NoError(t, ReadMagic(&buf))
}

func TestReadMagicRejectsWrongBytes(t *testing.T) {
	err := ReadMagic(bytes.NewReader([]byte("nope")))
	require.Error(t, err)
}

func TestBlockHeaderRoundTrip(t *testing.T) {
	h := BlockHeader{Type: BlockVorbisComment, IsLast: true, Length: 1234}
	encoded := EncodeBlockHeader(h)
	require.Len(t, encoded, 4)

	decoded, err := ReadBlockHeader(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestReadBlockHeaderRejectsInvalidType(t *testing.T) {
	_, err := ReadBlockHeader(bytes.NewReader([]byte{0x7f, 0, 0, 0}))
	require.Error(t, err)
}

func TestStreamInfoRoundTrip(t *testing.T) {
	si := StreamInfo{
		MinBlockSize:  4096,
		MaxBlockSize:  4096,
		MinFrameSize:  1000,
		MaxFrameSize:  9000,
		SampleRate:    44100,
		Channels:      2,
		BitsPerSample: 16,
		TotalSamples:  123456789,
	}
	copy(si.MD5[:], []byte("0123456789abcdef"))

	encoded := EncodeStreamInfo(si)
	require.Len(t, encoded, 34)

	decoded, err := DecodeStreamInfo(encoded)
	require.NoError(t, err)
	require.Equal(t, si, decoded)
}

func TestDecodeStreamInfoRejectsWrongLength(t *testing.T) {
	_, err := DecodeStreamInfo(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeVorbisCommentParsesVendorAndComments(t *testing.T) {
	var buf bytes.Buffer
	writeLenString(&buf, "reference libFLAC 1.4.2")
	writeUint32LE(&buf, 2)
	writeLenString(&buf, "TITLE=A Song")
	writeLenString(&buf, "ARTIST=Someone")

	vc, err := DecodeVorbisComment(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "reference libFLAC 1.4.2", vc.Vendor)
	require.Len(t, vc.Comments, 2)

	title, ok := vc.Get("title")
	require.True(t, ok)
	require.Equal(t, "A Song", title)

	_, ok = vc.Get("missing")
	require.False(t, ok)
}

func TestDecodePictureParsesAllFields(t *testing.T) {
	var buf bytes.Buffer
	writeUint32BE(&buf, 3)
	writeBELenString(&buf, "image/jpeg")
	writeBELenString(&buf, "cover")
	writeUint32BE(&buf, 500)
	writeUint32BE(&buf, 500)
	writeUint32BE(&buf, 24)
	writeUint32BE(&buf, 0)
	data := []byte{0xff, 0xd8, 0xff, 0xd9}
	writeUint32BE(&buf, uint32(len(data)))
	buf.Write(data)

	pic, err := DecodePicture(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(3), pic.PictureType)
	require.Equal(t, "image/jpeg", pic.Mime)
	require.Equal(t, "cover", pic.Description)
	require.Equal(t, data, pic.Data)
}

func TestReadRawBlockReadsExactPayload(t *testing.T) {
	h := BlockHeader{Type: BlockPadding, IsLast: false, Length: 3}
	var buf bytes.Buffer
	buf.Write(EncodeBlockHeader(h))
	buf.Write([]byte{0, 0, 0})

	block, err := ReadRawBlock(&buf)
	require.NoError(t, err)
	require.Equal(t, h, block.Header)
	require.Equal(t, []byte{0, 0, 0}, block.Data)
}

// --- test helpers mirroring the wire encodings DecodeVorbisComment/
// DecodePicture expect, used only to build fixtures above. ---

func writeUint32LE(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func writeUint32BE(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func writeLenString(buf *bytes.Buffer, s string) {
	writeUint32LE(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBELenString(buf *bytes.Buffer, s string) {
	writeUint32BE(buf, uint32(len(s)))
	buf.WriteString(s)
}
