package packets

import (
	"fmt"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/packets/fb"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
)

// MaxStateDumpSize bounds the decompressed size of a state dump.
const MaxStateDumpSize = 64 << 20

var (
	dumpEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	dumpDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxStateDumpSize))
)

// Attr is one field of an entity carried in a batch.
type Attr struct {
	Field string
	Value attributes.Value
}

// Batch is the body of an info, reveal or destroy packet: attributes of one
// entity in one namespace. Entity is empty for namespaces without entities.
type Batch struct {
	Namespace attributes.Namespace
	Entity    string
	Attrs     []Attr
}

// Key returns the full attribute key of a field in the batch.
func (b Batch) Key(field string) string {
	return b.Namespace.Key(b.Entity, field)
}

// EncodeBatch serializes a batch as a flatbuffers AttrBatch.
func EncodeBatch(b Batch) []byte {
	builder := flatbuffers.NewBuilder(256)
	builder.Finish(serializeBatch(builder, b))
	return builder.FinishedBytes()
}

// DecodeBatch parses an AttrBatch body.
func DecodeBatch(body []byte) (b Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to decode attribute batch: corrupt flatbuffer: %v", r)
		}
	}()
	if len(body) < flatbuffers.SizeUOffsetT {
		return Batch{}, fmt.Errorf("failed to decode attribute batch: body of %d bytes", len(body))
	}
	return deserializeBatch(fb.GetRootAsAttrBatch(body, 0))
}

// EncodeStateDump serializes batches as a zstd-compressed flatbuffers StateDump.
func EncodeStateDump(batches []Batch) []byte {
	builder := flatbuffers.NewBuilder(1024)
	offsets := make([]flatbuffers.UOffsetT, len(batches))
	for i, b := range batches {
		offsets[i] = serializeBatch(builder, b)
	}
	fb.StateDumpStartBatchesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	vec := builder.EndVector(len(offsets))
	fb.StateDumpStart(builder)
	fb.StateDumpAddBatches(builder, vec)
	builder.Finish(fb.StateDumpEnd(builder))
	return dumpEncoder.EncodeAll(builder.FinishedBytes(), nil)
}

// DecodeStateDump parses a state dump body.
func DecodeStateDump(body []byte) (batches []Batch, err error) {
	raw, err := dumpDecoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress state dump: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to decode state dump: corrupt flatbuffer: %v", r)
		}
	}()
	if len(raw) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("failed to decode state dump: body of %d bytes", len(raw))
	}
	dump := fb.GetRootAsStateDump(raw, 0)
	n, err := vectorLen(dump.Table(), slotDumpBatches, flatbuffers.SizeUOffsetT)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state dump: batches: %w", err)
	}
	item := new(fb.AttrBatch)
	for i := 0; i < n; i++ {
		if !dump.Batches(item, i) {
			continue
		}
		b, err := deserializeBatch(item)
		if err != nil {
			return nil, fmt.Errorf("failed to decode state dump batch %d: %w", i, err)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func serializeBatch(builder *flatbuffers.Builder, b Batch) flatbuffers.UOffsetT {
	attrs := make([]flatbuffers.UOffsetT, len(b.Attrs))
	for i, a := range b.Attrs {
		attrs[i] = serializeAttr(builder, a)
	}
	fb.AttrBatchStartAttrsVector(builder, len(attrs))
	for i := len(attrs) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(attrs[i])
	}
	attrVec := builder.EndVector(len(attrs))
	entity := builder.CreateString(b.Entity)

	fb.AttrBatchStart(builder)
	fb.AttrBatchAddNamespace(builder, byte(b.Namespace))
	fb.AttrBatchAddEntity(builder, entity)
	fb.AttrBatchAddAttrs(builder, attrVec)
	return fb.AttrBatchEnd(builder)
}

func serializeAttr(builder *flatbuffers.Builder, a Attr) flatbuffers.UOffsetT {
	field := builder.CreateString(a.Field)
	var str, blob, members flatbuffers.UOffsetT
	switch a.Value.Kind {
	case attributes.KindString:
		str = builder.CreateString(a.Value.Str)
	case attributes.KindBlob:
		blob = builder.CreateByteVector(a.Value.Blob)
	case attributes.KindSet:
		offsets := make([]flatbuffers.UOffsetT, len(a.Value.Set))
		for i, m := range a.Value.Set {
			offsets[i] = builder.CreateString(m)
		}
		fb.AttrStartMembersVector(builder, len(offsets))
		for i := len(offsets) - 1; i >= 0; i-- {
			builder.PrependUOffsetT(offsets[i])
		}
		members = builder.EndVector(len(offsets))
	}

	fb.AttrStart(builder)
	fb.AttrAddField(builder, field)
	fb.AttrAddKind(builder, fb.ValueKind(a.Value.Kind))
	switch a.Value.Kind {
	case attributes.KindInt:
		fb.AttrAddIntValue(builder, a.Value.Int)
	case attributes.KindString:
		fb.AttrAddStrValue(builder, str)
	case attributes.KindBool:
		fb.AttrAddBoolValue(builder, a.Value.Bool)
	case attributes.KindBlob:
		fb.AttrAddBlobValue(builder, blob)
	case attributes.KindSet:
		fb.AttrAddMembers(builder, members)
	}
	return fb.AttrEnd(builder)
}

// Vtable slots of the vectors in attributes.fbs.
const (
	slotDumpBatches flatbuffers.VOffsetT = 4
	slotBatchAttrs  flatbuffers.VOffsetT = 8
	slotAttrMembers flatbuffers.VOffsetT = 16
)

// vectorLen returns the length of the vector in slot after checking that the
// declared length fits in the bytes that follow the vector header.
func vectorLen(t flatbuffers.Table, slot flatbuffers.VOffsetT, elemSize int) (int, error) {
	o := flatbuffers.UOffsetT(t.Offset(slot))
	if o == 0 {
		return 0, nil
	}
	start := int(t.Vector(o))
	n := t.VectorLen(o)
	if start > len(t.Bytes) || n < 0 || n > (len(t.Bytes)-start)/elemSize {
		return 0, fmt.Errorf("vector length %d exceeds %d remaining bytes", n, len(t.Bytes)-start)
	}
	return n, nil
}

func deserializeBatch(item *fb.AttrBatch) (Batch, error) {
	ns := attributes.Namespace(item.Namespace())
	if !ns.Valid() {
		return Batch{}, fmt.Errorf("unknown namespace %d", item.Namespace())
	}
	n, err := vectorLen(item.Table(), slotBatchAttrs, flatbuffers.SizeUOffsetT)
	if err != nil {
		return Batch{}, fmt.Errorf("attrs: %w", err)
	}
	b := Batch{
		Namespace: ns,
		Entity:    string(item.Entity()),
	}
	a := new(fb.Attr)
	for i := 0; i < n; i++ {
		if !item.Attrs(a, i) {
			continue
		}
		v, err := deserializeValue(a)
		if err != nil {
			return Batch{}, fmt.Errorf("field %q: %w", a.Field(), err)
		}
		b.Attrs = append(b.Attrs, Attr{Field: string(a.Field()), Value: v})
	}
	return b, nil
}

func deserializeValue(a *fb.Attr) (attributes.Value, error) {
	switch a.Kind() {
	case fb.ValueKindNone:
		return attributes.Value{}, nil
	case fb.ValueKindInt:
		return attributes.IntValue(a.IntValue()), nil
	case fb.ValueKindString:
		return attributes.StringValue(string(a.StrValue())), nil
	case fb.ValueKindBool:
		return attributes.BoolValue(a.BoolValue()), nil
	case fb.ValueKindBlob:
		return attributes.BlobValue(a.BlobValueBytes()), nil
	case fb.ValueKindSet:
		n, err := vectorLen(a.Table(), slotAttrMembers, flatbuffers.SizeUOffsetT)
		if err != nil {
			return attributes.Value{}, fmt.Errorf("members: %w", err)
		}
		var members []string
		for i := 0; i < n; i++ {
			members = append(members, string(a.Members(i)))
		}
		return attributes.SetValue(members...), nil
	default:
		return attributes.Value{}, fmt.Errorf("unknown value kind %s", a.Kind())
	}
}
