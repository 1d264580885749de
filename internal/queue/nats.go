package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
)

// NATSConfig configures a NATSBroker.
type NATSConfig struct {
	URL string
	// Stream is the JetStream stream holding every queue. Default "SEO_JOBS".
	Stream     string
	Visibility time.Duration
}

const natsSubjectPrefix = "seo.jobs."

// NATSBroker stores jobs in a JetStream work-queue stream with one durable
// pull consumer per queue. The visibility timeout maps to the consumer's
// AckWait.
type NATSBroker struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	stream     string
	visibility time.Duration
	consumers  map[Name]jetstream.Consumer
}

// NewNATSBroker connects to NATS and creates the stream and one consumer per
// queue when they do not exist.
func NewNATSBroker(ctx context.Context, cfg NATSConfig) (*NATSBroker, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Stream == "" {
		cfg.Stream = "SEO_JOBS"
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 2 * time.Minute
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("seo-pipeline"))
	if err != nil {
		return nil, eris.Wrapf(err, "queue: nats connect %s", cfg.URL)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, eris.Wrap(err, "queue: jetstream")
	}

	b := &NATSBroker{
		nc:         nc,
		js:         js,
		stream:     cfg.Stream,
		visibility: cfg.Visibility,
		consumers:  make(map[Name]jetstream.Consumer),
	}
	if err := b.setup(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *NATSBroker) setup(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      b.stream,
		Subjects:  []string{natsSubjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return eris.Wrapf(err, "queue: create stream %s", b.stream)
	}
	for _, q := range Names() {
		cons, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
			Durable:       "seo-" + string(q),
			FilterSubject: natsSubjectPrefix + string(q),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       b.visibility,
			MaxDeliver:    -1,
		})
		if err != nil {
			return eris.Wrapf(err, "queue: create consumer %s", q)
		}
		b.consumers[q] = cons
	}
	return nil
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Header

func (c natsHeaderCarrier) Get(key string) string { return nats.Header(c).Get(key) }
func (c natsHeaderCarrier) Set(key, val string)   { nats.Header(c).Set(key, val) }
func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Publish stores job on its queue subject. Trace context from ctx is
// injected into the message headers.
func (b *NATSBroker) Publish(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "queue: marshal job")
	}
	msg := &nats.Msg{
		Subject: natsSubjectPrefix + string(job.Queue),
		Data:    raw,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, job.ID)
	otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier(msg.Header))
	_, err = b.js.PublishMsg(ctx, msg)
	return eris.Wrapf(err, "queue: nats publish %s", job.Queue)
}

func (b *NATSBroker) Fetch(ctx context.Context, queue Name, wait time.Duration) (Delivery, error) {
	cons, ok := b.consumers[queue]
	if !ok {
		return nil, eris.Errorf("queue: unknown queue %q", queue)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, eris.Wrapf(err, "queue: nats fetch %s", queue)
	}
	for msg := range batch.Messages() {
		var job Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			_ = msg.Term()
			return nil, eris.Wrapf(err, "queue: decode %s job", queue)
		}
		if md, err := msg.Metadata(); err == nil && md.NumDelivered > 0 {
			job.Attempt = int(md.NumDelivered) - 1
		}
		return &natsDelivery{msg: msg, job: job}, nil
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, eris.Wrapf(err, "queue: nats fetch %s", queue)
	}
	return nil, ErrNoJob
}

func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}

type natsDelivery struct {
	msg jetstream.Msg
	job Job
}

func (d *natsDelivery) Job() Job { return d.job }

func (d *natsDelivery) Ack(context.Context) error {
	return eris.Wrapf(d.msg.Ack(), "queue: nats ack %s", d.job.ID)
}

// Retry naks the message; JetStream tracks the delivery count, so the
// attempt counter advances on the next delivery.
func (d *natsDelivery) Retry(_ context.Context, delay time.Duration) error {
	return eris.Wrapf(d.msg.NakWithDelay(delay), "queue: nats nak %s", d.job.ID)
}

func (d *natsDelivery) Kill(context.Context) error {
	return eris.Wrapf(d.msg.Term(), "queue: nats term %s", d.job.ID)
}

func (d *natsDelivery) traceContext(ctx context.Context) context.Context {
	h := d.msg.Headers()
	if h == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, natsHeaderCarrier(h))
}
