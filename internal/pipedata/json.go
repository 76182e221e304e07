package pipedata

import (
	"encoding/json"
	"fmt"
)

// Wire encoding. Every tagged union in this package is encoded as a JSON
// object carrying an explicit "type" (or, for BytesSource, "kind") field —
// never a transparent single-field shape — and unknown keys are rejected
// outright, matching spec's "Unknown keys in any object are rejected" rule
// for the pipeline document and job submission wire formats.

func rawFields(data []byte) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkFields(m map[string]json.RawMessage, allowed ...string) error {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	for k := range m {
		if !ok[k] {
			return fmt.Errorf("pipedata: unknown field %q", k)
		}
	}
	return nil
}

func decodeField[T any](m map[string]json.RawMessage, key string, required bool) (T, error) {
	var zero T
	raw, present := m[key]
	if !present {
		if required {
			return zero, fmt.Errorf("pipedata: missing field %q", key)
		}
		return zero, nil
	}
	if err := json.Unmarshal(raw, &zero); err != nil {
		return zero, fmt.Errorf("pipedata: field %q: %w", key, err)
	}
	return zero, nil
}

// --- PipeDataStub ---

type stubWire struct {
	Kind Kind   `json:"kind"`
	Mime string `json:"mime,omitempty"`
}

func (s PipeDataStub) MarshalJSON() ([]byte, error) {
	return json.Marshal(stubWire{Kind: s.Kind, Mime: s.Mime})
}

func (s *PipeDataStub) UnmarshalJSON(data []byte) error {
	m, err := rawFields(data)
	if err != nil {
		return err
	}
	if err := checkFields(m, "kind", "mime"); err != nil {
		return err
	}
	kind, err := decodeField[Kind](m, "kind", true)
	if err != nil {
		return err
	}
	mime, err := decodeField[string](m, "mime", false)
	if err != nil {
		return err
	}
	s.Kind = kind
	s.Mime = mime
	return nil
}

// --- BytesSource ---

type sourceWire struct {
	Kind     SourceKind `json:"kind"`
	Fragment []byte     `json:"fragment,omitempty"`
	IsLast   bool       `json:"is_last,omitempty"`
	Bucket   string     `json:"bucket,omitempty"`
	Key      string     `json:"key,omitempty"`
}

func (b BytesSource) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case SourceArray:
		return json.Marshal(sourceWire{Kind: SourceArray, Fragment: b.Fragment, IsLast: b.IsLast})
	case SourceS3:
		return json.Marshal(sourceWire{Kind: SourceS3, Bucket: b.Bucket, Key: b.Key})
	default:
		return nil, fmt.Errorf("pipedata: invalid BytesSource kind %q", b.Kind)
	}
}

func (b *BytesSource) UnmarshalJSON(data []byte) error {
	m, err := rawFields(data)
	if err != nil {
		return err
	}
	kind, err := decodeField[SourceKind](m, "kind", true)
	if err != nil {
		return err
	}
	switch kind {
	case SourceArray:
		if err := checkFields(m, "kind", "fragment", "is_last"); err != nil {
			return err
		}
		frag, err := decodeField[[]byte](m, "fragment", true)
		if err != nil {
			return err
		}
		isLast, err := decodeField[bool](m, "is_last", false)
		if err != nil {
			return err
		}
		*b = NewArrayChunk(frag, isLast)
		return nil
	case SourceS3:
		if err := checkFields(m, "kind", "bucket", "key"); err != nil {
			return err
		}
		bucket, err := decodeField[string](m, "bucket", true)
		if err != nil {
			return err
		}
		key, err := decodeField[string](m, "key", true)
		if err != nil {
			return err
		}
		*b = NewS3Source(bucket, key)
		return nil
	default:
		return fmt.Errorf("pipedata: unknown BytesSource kind %q", kind)
	}
}

// --- PipeData ---

func (p PipeData) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindNone:
		return json.Marshal(struct {
			Type Kind         `json:"type"`
			Of   PipeDataStub `json:"of"`
		}{KindNone, p.NullOf})
	case KindText:
		return json.Marshal(struct {
			Type  Kind   `json:"type"`
			Value string `json:"value"`
		}{KindText, p.Text})
	case KindInteger:
		return json.Marshal(struct {
			Type          Kind  `json:"type"`
			Value         int64 `json:"value"`
			IsNonNegative bool  `json:"is_non_negative"`
		}{KindInteger, p.Integer, p.IsNonNegative})
	case KindFloat:
		return json.Marshal(struct {
			Type          Kind    `json:"type"`
			Value         float64 `json:"value"`
			IsNonNegative bool    `json:"is_non_negative"`
		}{KindFloat, p.Float, p.IsNonNegative})
	case KindBoolean:
		return json.Marshal(struct {
			Type  Kind `json:"type"`
			Value bool `json:"value"`
		}{KindBoolean, p.Bool()})
	case KindHash:
		return json.Marshal(struct {
			Type      Kind          `json:"type"`
			Algorithm HashAlgorithm `json:"algorithm"`
			Value     []byte        `json:"value"`
		}{KindHash, p.HashAlgorithm, p.HashBytes})
	case KindBytes:
		return json.Marshal(struct {
			Type   Kind        `json:"type"`
			Mime   string      `json:"mime"`
			Source BytesSource `json:"source"`
		}{KindBytes, p.Mime, p.Source})
	case KindReference:
		return json.Marshal(struct {
			Type    Kind  `json:"type"`
			ClassID int64 `json:"class_id"`
			ItemID  int64 `json:"item_id"`
		}{KindReference, p.ClassID, p.ItemID})
	case KindBlob:
		return json.Marshal(struct {
			Type      Kind   `json:"type"`
			ObjectKey string `json:"object_key"`
		}{KindBlob, p.ObjectKey})
	default:
		return nil, fmt.Errorf("pipedata: invalid PipeData kind %q", p.Kind)
	}
}

func (p *PipeData) UnmarshalJSON(data []byte) error {
	m, err := rawFields(data)
	if err != nil {
		return err
	}
	kind, err := decodeField[Kind](m, "type", true)
	if err != nil {
		return err
	}
	switch kind {
	case KindNone:
		if err := checkFields(m, "type", "of"); err != nil {
			return err
		}
		of, err := decodeField[PipeDataStub](m, "of", true)
		if err != nil {
			return err
		}
		*p = None(of)
	case KindText:
		if err := checkFields(m, "type", "value"); err != nil {
			return err
		}
		v, err := decodeField[string](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewText(v)
	case KindInteger:
		if err := checkFields(m, "type", "value", "is_non_negative"); err != nil {
			return err
		}
		v, err := decodeField[int64](m, "value", true)
		if err != nil {
			return err
		}
		nn, err := decodeField[bool](m, "is_non_negative", false)
		if err != nil {
			return err
		}
		*p = NewInteger(v, nn)
	case KindFloat:
		if err := checkFields(m, "type", "value", "is_non_negative"); err != nil {
			return err
		}
		v, err := decodeField[float64](m, "value", true)
		if err != nil {
			return err
		}
		nn, err := decodeField[bool](m, "is_non_negative", false)
		if err != nil {
			return err
		}
		*p = NewFloat(v, nn)
	case KindBoolean:
		if err := checkFields(m, "type", "value"); err != nil {
			return err
		}
		v, err := decodeField[bool](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewBoolean(v)
	case KindHash:
		if err := checkFields(m, "type", "algorithm", "value"); err != nil {
			return err
		}
		alg, err := decodeField[HashAlgorithm](m, "algorithm", true)
		if err != nil {
			return err
		}
		v, err := decodeField[[]byte](m, "value", true)
		if err != nil {
			return err
		}
		switch alg {
		case MD5, SHA256, SHA512:
		default:
			return fmt.Errorf("pipedata: unknown hash algorithm %q", alg)
		}
		*p = NewHash(alg, v)
	case KindBytes:
		if err := checkFields(m, "type", "mime", "source"); err != nil {
			return err
		}
		mime, err := decodeField[string](m, "mime", true)
		if err != nil {
			return err
		}
		src, err := decodeField[BytesSource](m, "source", true)
		if err != nil {
			return err
		}
		*p = NewBytes(mime, src)
	case KindReference:
		if err := checkFields(m, "type", "class_id", "item_id"); err != nil {
			return err
		}
		classID, err := decodeField[int64](m, "class_id", true)
		if err != nil {
			return err
		}
		itemID, err := decodeField[int64](m, "item_id", true)
		if err != nil {
			return err
		}
		*p = NewReference(classID, itemID)
	case KindBlob:
		if err := checkFields(m, "type", "object_key"); err != nil {
			return err
		}
		key, err := decodeField[string](m, "object_key", true)
		if err != nil {
			return err
		}
		*p = NewBlob(key)
	default:
		return fmt.Errorf("pipedata: unknown PipeData type %q", kind)
	}
	return nil
}

// --- ParamValue ---

func (p ParamValue) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ParamString:
		return json.Marshal(struct {
			Type  ParamKind `json:"type"`
			Value string    `json:"value"`
		}{ParamString, p.String})
	case ParamInteger:
		return json.Marshal(struct {
			Type  ParamKind `json:"type"`
			Value int64     `json:"value"`
		}{ParamInteger, p.Integer})
	case ParamFloat:
		return json.Marshal(struct {
			Type  ParamKind `json:"type"`
			Value float64   `json:"value"`
		}{ParamFloat, p.Float})
	case ParamBoolean:
		return json.Marshal(struct {
			Type  ParamKind `json:"type"`
			Value bool      `json:"value"`
		}{ParamBoolean, p.Boolean})
	case ParamData:
		return json.Marshal(struct {
			Type  ParamKind `json:"type"`
			Value PipeData  `json:"value"`
		}{ParamData, p.Data})
	case ParamList:
		return json.Marshal(struct {
			Type  ParamKind    `json:"type"`
			Value []ParamValue `json:"value"`
		}{ParamList, p.List})
	default:
		return nil, fmt.Errorf("pipedata: invalid ParamValue kind %q", p.Kind)
	}
}

func (p *ParamValue) UnmarshalJSON(data []byte) error {
	m, err := rawFields(data)
	if err != nil {
		return err
	}
	if err := checkFields(m, "type", "value"); err != nil {
		return err
	}
	kind, err := decodeField[ParamKind](m, "type", true)
	if err != nil {
		return err
	}
	switch kind {
	case ParamString:
		v, err := decodeField[string](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewParamString(v)
	case ParamInteger:
		v, err := decodeField[int64](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewParamInteger(v)
	case ParamFloat:
		v, err := decodeField[float64](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewParamFloat(v)
	case ParamBoolean:
		v, err := decodeField[bool](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewParamBoolean(v)
	case ParamData:
		v, err := decodeField[PipeData](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewParamData(v)
	case ParamList:
		v, err := decodeField[[]ParamValue](m, "value", true)
		if err != nil {
			return err
		}
		*p = NewParamList(v)
	default:
		return fmt.Errorf("pipedata: unknown ParamValue type %q", kind)
	}
	return nil
}
