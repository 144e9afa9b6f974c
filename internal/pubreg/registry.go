package pubreg

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sawpanic/gateway/internal/apperror"
	"github.com/sawpanic/gateway/internal/ipc"
	"github.com/sawpanic/gateway/internal/logx"
	"github.com/sawpanic/gateway/internal/metrics"
	"github.com/sawpanic/gateway/internal/record"
)

// Result is the outcome of a single Publish call, the pubreg-level
// vocabulary a caller (the streaming client) reacts to.
type Result int

const (
	Accepted Result = iota
	Backpressured
	EncodingFailed
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Backpressured:
		return "backpressured"
	case EncodingFailed:
		return "encoding_failed"
	default:
		return "unknown"
	}
}

// every Kth consecutive backpressure event on a handle gets a diagnostic
// log line; the rest only move the counter, so a stalled consumer cannot
// turn the gateway's own logging into its next bottleneck.
const backpressureLogStride = 1000

// Handle is the lazily-created per-(venue, data_type) publication path: one
// encoder scratch buffer plus the ipc.Stream it offers onto.
type Handle struct {
	venue    record.Venue
	dataType record.DataType
	streamID string

	enc    *encoder
	stream ipc.Stream

	mu            sync.Mutex
	backpressureN uint64
}

// Registry owns one Handle per (venue, data_type) pair, created on first
// use and cached for the process lifetime — mirroring the lazy
// connection-pool pattern the teacher uses for its exchange clients.
type Registry struct {
	streams *ipc.Registry
	log     *logx.Logger
	metrics *metrics.Instruments

	mu      sync.Mutex
	handles map[record.Venue]map[record.DataType]*Handle
}

// New builds a Registry publishing onto streams opened from the given
// ipc.Registry, logging via log and recording onto the given instruments
// (either of which may be nil to disable that concern, e.g. in tests).
func New(streams *ipc.Registry, log *logx.Logger, inst *metrics.Instruments) *Registry {
	if log == nil {
		log = logx.Discard()
	}
	return &Registry{
		streams: streams,
		log:     log,
		metrics: inst,
		handles: make(map[record.Venue]map[record.DataType]*Handle),
	}
}

func (r *Registry) handle(v record.Venue, dt record.DataType) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType, ok := r.handles[v]
	if !ok {
		byType = make(map[record.DataType]*Handle)
		r.handles[v] = byType
	}
	h, ok := byType[dt]
	if ok {
		return h
	}
	id := record.StreamID(v, dt)
	name := strconv.Itoa(id)
	h = &Handle{
		venue:    v,
		dataType: dt,
		streamID: name,
		enc:      newEncoder(),
		stream:   r.streams.Open(name),
	}
	byType[dt] = h
	return h
}

func (r *Registry) attrs(v record.Venue, dt record.DataType) attribute.Set {
	return attribute.NewSet(
		attribute.String("venue", v.String()),
		attribute.String("data_type", dt.String()),
	)
}

func (r *Registry) recordOutcome(ctx context.Context, v record.Venue, dt record.DataType, res Result) {
	if r.metrics == nil {
		return
	}
	opt := metric.WithAttributeSet(r.attrs(v, dt))
	switch res {
	case Accepted:
		r.metrics.MessagesOut.Add(ctx, 1, opt)
	case Backpressured:
		r.metrics.Backpressure.Add(ctx, 1, opt)
		r.metrics.PublicationFailures.Add(ctx, 1, opt)
	case EncodingFailed:
		r.metrics.PublicationFailures.Add(ctx, 1, opt)
	}
}

// PublishTicker encodes and offers a Ticker onto its (venue, Ticker)
// stream. The caller owns t; the encoder copies everything it needs.
func (r *Registry) PublishTicker(ctx context.Context, t record.Ticker) (Result, error) {
	h := r.handle(t.Venue, record.TickerType)
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, err := h.enc.EncodeTicker(t)
	if err != nil {
		r.recordOutcome(ctx, t.Venue, record.TickerType, EncodingFailed)
		return EncodingFailed, err
	}
	return r.offer(ctx, h, payload)
}

// PublishTrade encodes and offers a Trade onto its (venue, Trades) stream.
func (r *Registry) PublishTrade(ctx context.Context, tr record.Trade) (Result, error) {
	h := r.handle(tr.Venue, record.Trades)
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, err := h.enc.EncodeTrade(tr)
	if err != nil {
		r.recordOutcome(ctx, tr.Venue, record.Trades, EncodingFailed)
		return EncodingFailed, err
	}
	return r.offer(ctx, h, payload)
}

// PublishOrderBook encodes and offers an OrderBook onto its
// (venue, OrderBookType) stream.
func (r *Registry) PublishOrderBook(ctx context.Context, ob record.OrderBook) (Result, error) {
	h := r.handle(ob.Venue, record.OrderBookType)
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, err := h.enc.EncodeOrderBook(ob)
	if err != nil {
		r.recordOutcome(ctx, ob.Venue, record.OrderBookType, EncodingFailed)
		return EncodingFailed, err
	}
	return r.offer(ctx, h, payload)
}

// offer copies payload (which aliases h.enc's scratch buffer) before
// handing it to the stream, then records the outcome. h.mu is held by the
// caller for the duration of the encode+offer so a handle's encoder
// buffer is never shared across concurrent publishers for that stream.
func (r *Registry) offer(ctx context.Context, h *Handle, payload []byte) (Result, error) {
	owned := make([]byte, len(payload))
	copy(owned, payload)

	switch h.stream.Offer(ctx, owned) {
	case ipc.Accepted:
		h.backpressureN = 0
		r.recordOutcome(ctx, h.venue, h.dataType, Accepted)
		return Accepted, nil
	case ipc.Closed:
		err := apperror.New(apperror.CodePublicationFatal,
			apperror.WithVenue(h.venue.String()),
			apperror.WithDataType(h.dataType.String()),
			apperror.WithContext("stream "+h.streamID+" closed"))
		r.recordOutcome(ctx, h.venue, h.dataType, EncodingFailed)
		r.log.Error(ctx, "publication stream closed", "venue", h.venue.String(), "data_type", h.dataType.String(), "stream_id", h.streamID)
		return EncodingFailed, err
	default: // ipc.WouldBlock
		h.backpressureN++
		r.recordOutcome(ctx, h.venue, h.dataType, Backpressured)
		if h.backpressureN%backpressureLogStride == 1 {
			r.log.Warn(ctx, "stream backpressured", "venue", h.venue.String(), "data_type", h.dataType.String(),
				"stream_id", h.streamID, "consecutive", h.backpressureN)
		}
		return Backpressured, apperror.New(apperror.CodeBackpressure,
			apperror.WithVenue(h.venue.String()), apperror.WithDataType(h.dataType.String()))
	}
}
