package spanz

import (
	"strconv"

	"github.com/tinylib/msgp/msgp"
)

// AgentPath is the agent endpoint that accepts MessagePack trace batches.
const AgentPath = "/v0.3/traces"

// Encoder turns a batch of traces into an HTTP request body and headers.
type Encoder interface {
	// Path returns the request path on the agent.
	Path() string
	// Headers returns the request headers for the batch.
	Headers(traces []Trace) map[string]string
	// Encode returns the request body for the batch.
	Encode(traces []Trace) ([]byte, error)
}

// AgentEncoder encodes batches as MessagePack for the v0.3 agent API.
// Not safe for concurrent use: the returned body reuses one buffer and is
// only valid until the next call to Encode.
type AgentEncoder struct {
	common map[string]string
	buf    []byte
}

// NewAgentEncoder creates an encoder reporting the given tracer version.
func NewAgentEncoder(tracerVersion string) *AgentEncoder {
	return &AgentEncoder{
		common: map[string]string{
			"Content-Type":                "application/msgpack",
			"Datadog-Meta-Lang":           "go",
			"Datadog-Meta-Tracer-Version": tracerVersion,
		},
	}
}

// Path implements Encoder.
func (*AgentEncoder) Path() string { return AgentPath }

// Headers implements Encoder. The trace count header is the only one that
// varies per batch.
func (e *AgentEncoder) Headers(traces []Trace) map[string]string {
	h := make(map[string]string, len(e.common)+1)
	for k, v := range e.common {
		h[k] = v
	}
	h["X-Datadog-Trace-Count"] = strconv.Itoa(len(traces))
	return h
}

// Encode implements Encoder.
func (e *AgentEncoder) Encode(traces []Trace) ([]byte, error) {
	b, err := AppendTraces(e.buf[:0], traces)
	if err != nil {
		return nil, err
	}
	e.buf = b
	return b, nil
}

// AppendTraces appends the MessagePack form of a batch to b.
func AppendTraces(b []byte, traces []Trace) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, uint32(len(traces)))
	for i := range traces {
		var err error
		b, err = traces[i].MarshalMsg(b)
		if err != nil {
			return b, msgp.WrapError(err, i)
		}
	}
	return b, nil
}

// DecodeTraces reads a batch encoded by AppendTraces.
func DecodeTraces(bts []byte) ([]Trace, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, msgp.WrapError(err)
	}
	traces := make([]Trace, n)
	for i := range traces {
		bts, err = traces[i].UnmarshalMsg(bts)
		if err != nil {
			return nil, msgp.WrapError(err, i)
		}
	}
	return traces, nil
}

// MarshalMsg implements msgp.Marshaler
func (t Trace) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, t.Msgsize())
	o = msgp.AppendArrayHeader(o, uint32(len(t)))
	for i := range t {
		if t[i] == nil {
			o = msgp.AppendNil(o)
			continue
		}
		o, err = t[i].MarshalMsg(o)
		if err != nil {
			err = msgp.WrapError(err, i)
			return
		}
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (t *Trace) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var n uint32
	n, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	out := make(Trace, n)
	for i := range out {
		if msgp.IsNil(bts) {
			bts, err = msgp.ReadNilBytes(bts)
			if err != nil {
				return
			}
			continue
		}
		out[i] = new(SpanData)
		bts, err = out[i].UnmarshalMsg(bts)
		if err != nil {
			err = msgp.WrapError(err, i)
			return
		}
	}
	*t = out
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (t Trace) Msgsize() (s int) {
	s = msgp.ArrayHeaderSize
	for i := range t {
		if t[i] == nil {
			s += msgp.NilSize
		} else {
			s += t[i].Msgsize()
		}
	}
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *SpanData) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	// map header, size 11
	o = msgp.AppendMapHeader(o, 11)
	o = msgp.AppendString(o, "name")
	o = msgp.AppendString(o, z.Name)
	o = msgp.AppendString(o, "service")
	o = msgp.AppendString(o, z.Service)
	o = msgp.AppendString(o, "resource")
	o = msgp.AppendString(o, z.Resource)
	o = msgp.AppendString(o, "type")
	o = msgp.AppendString(o, z.Type)
	o = msgp.AppendString(o, "start")
	o = msgp.AppendInt64(o, z.Start)
	o = msgp.AppendString(o, "duration")
	o = msgp.AppendInt64(o, z.Duration)
	o = msgp.AppendString(o, "meta")
	o = msgp.AppendMapHeader(o, uint32(len(z.Meta)))
	for k, v := range z.Meta {
		o = msgp.AppendString(o, k)
		o = msgp.AppendString(o, v)
	}
	o = msgp.AppendString(o, "span_id")
	o = msgp.AppendUint64(o, z.SpanID)
	o = msgp.AppendString(o, "trace_id")
	o = msgp.AppendUint64(o, z.TraceID)
	o = msgp.AppendString(o, "parent_id")
	o = msgp.AppendUint64(o, z.ParentID)
	o = msgp.AppendString(o, "error")
	o = msgp.AppendInt32(o, z.Error)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *SpanData) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var fields uint32
	fields, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for fields > 0 {
		fields--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "name":
			z.Name, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Name")
				return
			}
		case "service":
			z.Service, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Service")
				return
			}
		case "resource":
			z.Resource, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Resource")
				return
			}
		case "type":
			z.Type, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Type")
				return
			}
		case "start":
			z.Start, bts, err = msgp.ReadInt64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Start")
				return
			}
		case "duration":
			z.Duration, bts, err = msgp.ReadInt64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Duration")
				return
			}
		case "meta":
			var n uint32
			n, bts, err = msgp.ReadMapHeaderBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Meta")
				return
			}
			z.Meta = make(map[string]string, n)
			for n > 0 {
				n--
				var k, v string
				k, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "Meta")
					return
				}
				v, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "Meta", k)
					return
				}
				z.Meta[k] = v
			}
		case "span_id":
			z.SpanID, bts, err = msgp.ReadUint64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "SpanID")
				return
			}
		case "trace_id":
			z.TraceID, bts, err = msgp.ReadUint64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "TraceID")
				return
			}
		case "parent_id":
			z.ParentID, bts, err = msgp.ReadUint64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "ParentID")
				return
			}
		case "error":
			z.Error, bts, err = msgp.ReadInt32Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Error")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *SpanData) Msgsize() (s int) {
	s = 1 + 5 + msgp.StringPrefixSize + len(z.Name) +
		8 + msgp.StringPrefixSize + len(z.Service) +
		9 + msgp.StringPrefixSize + len(z.Resource) +
		5 + msgp.StringPrefixSize + len(z.Type) +
		6 + msgp.Int64Size +
		9 + msgp.Int64Size +
		5 + msgp.MapHeaderSize
	for k, v := range z.Meta {
		s += msgp.StringPrefixSize + len(k) + msgp.StringPrefixSize + len(v)
	}
	s += 8 + msgp.Uint64Size + 9 + msgp.Uint64Size + 10 + msgp.Uint64Size + 6 + msgp.Int32Size
	return
}
