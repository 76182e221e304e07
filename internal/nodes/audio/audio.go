// Package audio implements the catalogue's three FLAC-aware nodes:
// StripTags, ExtractTags, and ExtractCovers. All three walk a FLAC stream's
// metadata block chain via internal/audiofile and tolerate both Array- and
// S3-sourced Bytes inputs through the scheduler's uniform ChunkReader.
// Grounded on the original copperd/crates/pipeline-nodes/src/audio/{strip_tags,
// extract_tags,extract_covers}.rs and copperd/crates/audiofile/src/flac/mod.rs's
// block-walk loop.
package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/copperd/copper/internal/audiofile"
	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
)

const flacMime = "audio/flac"

// MaxExtractTags bounds ExtractTags's output port count, for the same reason
// AddItem's attribute ports are bounded: the dispatcher declares one static
// schema per type name, with no awareness of a particular instance's `tags`
// parameter.
const MaxExtractTags = 8

func tagPortName(i int) string { return fmt.Sprintf("tag_%d", i) }

// Register adds StripTags, ExtractTags, and ExtractCovers to r.
func Register(r *dispatch.Registry) error {
	if err := registerStripTags(r); err != nil {
		return err
	}
	if err := registerExtractTags(r); err != nil {
		return err
	}
	if err := registerExtractCovers(r); err != nil {
		return err
	}
	return nil
}

// openFlacInput opens data's byte stream and validates its magic, returning a
// buffered reader positioned right after the magic bytes.
func openFlacInput(ctx context.Context, in dispatch.Input) (*bufio.Reader, error) {
	_, cr, err := in.Chunks(ctx)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(audiofile.NewChunkIOReader(ctx, cr))
	if err := audiofile.ReadMagic(br); err != nil {
		return nil, err
	}
	return br, nil
}

// --- StripTags ---

type stripTagsNode struct{}

func (stripTagsNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	br, err := openFlacInput(ctx, inputs["data"])
	if err != nil {
		return err
	}

	var streamInfo *audiofile.RawBlock
	for {
		block, err := audiofile.ReadRawBlock(br)
		if err != nil {
			return fmt.Errorf("nodes/audio: StripTags: %w", err)
		}
		if block.Header.Type == audiofile.BlockStreamInfo {
			b := block
			streamInfo = &b
		}
		if block.Header.IsLast {
			break
		}
	}
	if streamInfo == nil {
		return fmt.Errorf("nodes/audio: StripTags: stream has no StreamInfo block")
	}

	out := outputs["out"]
	header := audiofile.EncodeBlockHeader(audiofile.BlockHeader{
		Type: audiofile.BlockStreamInfo, IsLast: true, Length: streamInfo.Header.Length,
	})
	if err := out.EmitChunk(ctx, flacMime, append([]byte(audiofile.Magic), header...), false); err != nil {
		return err
	}
	if err := out.EmitChunk(ctx, flacMime, streamInfo.Data, false); err != nil {
		return err
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			isLast := err == io.EOF
			if emitErr := out.EmitChunk(ctx, flacMime, buf[:n], isLast); emitErr != nil {
				return emitErr
			}
			if isLast {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return out.EmitChunk(ctx, flacMime, nil, true)
			}
			return fmt.Errorf("nodes/audio: StripTags: reading audio frames: %w", err)
		}
	}
}

func registerStripTags(r *dispatch.Registry) error {
	return r.Register("StripTags", dispatch.Schema{
		Inputs:  []dispatch.PortSpec{{Name: "data", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: flacMime}, Required: true}},
		Outputs: []dispatch.PortSpec{{Name: "out", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: flacMime}}},
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		return stripTagsNode{}, nil
	})
}

// --- ExtractTags ---

func findVorbisComment(br *bufio.Reader) (*audiofile.VorbisComment, error) {
	for {
		block, err := audiofile.ReadRawBlock(br)
		if err != nil {
			return nil, err
		}
		if block.Header.Type == audiofile.BlockVorbisComment {
			vc, err := audiofile.DecodeVorbisComment(block.Data)
			if err != nil {
				return nil, err
			}
			return &vc, nil
		}
		if block.Header.IsLast {
			return nil, nil
		}
	}
}

type extractTagsNode struct {
	keys []string
}

func (n *extractTagsNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	br, err := openFlacInput(ctx, inputs["data"])
	if err != nil {
		return err
	}
	vc, err := findVorbisComment(br)
	if err != nil {
		return fmt.Errorf("nodes/audio: ExtractTags: %w", err)
	}

	textStub := pipedata.PipeDataStub{Kind: pipedata.KindText}
	for i := 0; i < MaxExtractTags; i++ {
		out, ok := outputs[tagPortName(i)]
		if !ok {
			continue
		}
		if i >= len(n.keys) || vc == nil {
			if err := out.Emit(ctx, pipedata.None(textStub)); err != nil {
				return err
			}
			continue
		}
		if v, found := vc.Get(n.keys[i]); found {
			if err := out.Emit(ctx, pipedata.NewText(v)); err != nil {
				return err
			}
		} else if err := out.Emit(ctx, pipedata.None(textStub)); err != nil {
			return err
		}
	}
	return nil
}

func registerExtractTags(r *dispatch.Registry) error {
	outputs := make([]dispatch.PortSpec, MaxExtractTags)
	for i := 0; i < MaxExtractTags; i++ {
		outputs[i] = dispatch.PortSpec{Name: tagPortName(i), Stub: pipedata.PipeDataStub{Kind: pipedata.KindText}}
	}

	return r.Register("ExtractTags", dispatch.Schema{
		Params: map[string]pipedata.ParamSpec{
			"tags": {Kind: pipedata.ParamList, Required: true},
		},
		Inputs:  []dispatch.PortSpec{{Name: "data", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: flacMime}, Required: true}},
		Outputs: outputs,
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		var keys []string
		for _, v := range params["tags"].List {
			keys = append(keys, v.String)
		}
		if len(keys) > MaxExtractTags {
			return nil, fmt.Errorf("nodes/audio: ExtractTags: %d tags requested, max %d", len(keys), MaxExtractTags)
		}
		return &extractTagsNode{keys: keys}, nil
	})
}

// --- ExtractCovers ---

func findPicture(br *bufio.Reader) (*audiofile.Picture, error) {
	for {
		block, err := audiofile.ReadRawBlock(br)
		if err != nil {
			return nil, err
		}
		if block.Header.Type == audiofile.BlockPicture {
			pic, err := audiofile.DecodePicture(block.Data)
			if err != nil {
				return nil, err
			}
			return &pic, nil
		}
		if block.Header.IsLast {
			return nil, nil
		}
	}
}

type extractCoversNode struct{}

func (extractCoversNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	br, err := openFlacInput(ctx, inputs["data"])
	if err != nil {
		return err
	}
	pic, err := findPicture(br)
	if err != nil {
		return fmt.Errorf("nodes/audio: ExtractCovers: %w", err)
	}

	out := outputs["cover"]
	if pic == nil {
		return out.Emit(ctx, pipedata.None(pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: pipedata.AnyMime}))
	}
	return out.EmitChunk(ctx, pic.Mime, pic.Data, true)
}

func registerExtractCovers(r *dispatch.Registry) error {
	return r.Register("ExtractCovers", dispatch.Schema{
		Inputs:  []dispatch.PortSpec{{Name: "data", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: flacMime}, Required: true}},
		Outputs: []dispatch.PortSpec{{Name: "cover", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: pipedata.AnyMime}}},
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		return extractCoversNode{}, nil
	})
}
