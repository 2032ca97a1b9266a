// Package nats relays the updater output streams to a NATS server.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/updater"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/broadcast"
)

// KeyLatestRaces is the key of the latest race list in the key value bucket.
const KeyLatestRaces = "races.latest"

type (
	Publisher interface {
		Publish(subject string, data []byte) error
	}
	KeyValue interface {
		Put(ctx context.Context, key string, value []byte) (uint64, error)
	}
	RacesMessage struct {
		Races []model.Race `json:"races"`
	}
	ErrorMessage struct {
		Op    string `json:"op,omitempty"`
		Error string `json:"error"`
	}
)

var _ Publisher = (*nats.Conn)(nil)

type (
	Relay struct {
		pub     Publisher
		kv      KeyValue
		subject string
		l       *log.Logger
		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup
	}
	Option func(*Relay)
)

func WithSubject(subject string) Option {
	return func(r *Relay) {
		r.subject = subject
	}
}

// WithKeyValue stores the latest race list additionally in kv.
func WithKeyValue(kv KeyValue) Option {
	return func(r *Relay) {
		r.kv = kv
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Relay) {
		r.l = l
	}
}

func NewRelay(pub Publisher, opts ...Option) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	ret := &Relay{
		pub:     pub,
		subject: "nexttogo",
		l:       log.Default().Named("relay.nats"),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// SetupKV creates (or updates) the bucket used for the latest race list.
func SetupKV(ctx context.Context, conn *nats.Conn, bucket string) (jetstream.KeyValue, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, err
	}
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    time.Hour,
	})
}

func (r *Relay) RacesSubject() string {
	return r.subject + ".races"
}

func (r *Relay) ErrorsSubject() string {
	return r.subject + ".errors"
}

// Run forwards the emissions of both streams until Close is called.
//
//nolint:whitespace // editor/linter issue
func (r *Relay) Run(
	races broadcast.BroadcastServer[[]model.Race],
	errs broadcast.BroadcastServer[error],
) {
	raceCh := races.Subscribe()
	errCh := errs.Subscribe()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer races.CancelSubscription(raceCh)
		defer errs.CancelSubscription(errCh)
		for {
			select {
			case <-r.ctx.Done():
				return
			case data, ok := <-raceCh:
				if !ok {
					return
				}
				if err := r.publishRaces(data); err != nil {
					r.l.Warn("could not publish races", log.ErrorField(err))
				}
			case err, ok := <-errCh:
				if !ok {
					return
				}
				if pubErr := r.publishError(err); pubErr != nil {
					r.l.Warn("could not publish error", log.ErrorField(pubErr))
				}
			}
		}
	}()
}

func (r *Relay) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Relay) publishRaces(races []model.Race) error {
	data, err := json.Marshal(RacesMessage{Races: races})
	if err != nil {
		return err
	}
	if err := r.pub.Publish(r.RacesSubject(), data); err != nil {
		return err
	}
	if r.kv != nil {
		if _, err := r.kv.Put(r.ctx, KeyLatestRaces, data); err != nil {
			return fmt.Errorf("store latest races: %w", err)
		}
	}
	return nil
}

func (r *Relay) publishError(err error) error {
	msg := ErrorMessage{Error: err.Error()}
	var bgErr *updater.BackgroundError
	if errors.As(err, &bgErr) {
		msg.Op = string(bgErr.Op)
		msg.Error = bgErr.Err.Error()
	}
	data, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return marshalErr
	}
	return r.pub.Publish(r.ErrorsSubject(), data)
}
