package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/updater"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/broadcast"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []message
	kv   map[string][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func (f *fakeConn) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return uint64(len(f.kv)), nil
}

func (f *fakeConn) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message{}, f.msgs...)
}

func TestRelay(t *testing.T) {
	racesSrc := make(chan []model.Race)
	errSrc := make(chan error)
	races := broadcast.NewBroadcastServer("races", racesSrc,
		broadcast.WithLogger[[]model.Race](log.NewNop()))
	errs := broadcast.NewBroadcastServer("errors", errSrc,
		broadcast.WithLogger[error](log.NewNop()))
	defer races.Close()
	defer errs.Close()

	conn := &fakeConn{kv: map[string][]byte{}}
	r := NewRelay(conn, WithSubject("ntg"), WithKeyValue(conn), WithLogger(log.NewNop()))
	r.Run(races, errs)
	defer r.Close()

	racesSrc <- []model.Race{{ID: "race_1", MeetingName: "Ellerslie", Category: model.Horse}}
	require.Eventually(t, func() bool { return len(conn.messages()) == 1 },
		time.Second, time.Millisecond)
	errSrc <- &updater.BackgroundError{Op: updater.OpFetch, Err: errors.New("timeout")}
	require.Eventually(t, func() bool { return len(conn.messages()) == 2 },
		time.Second, time.Millisecond)

	msgs := conn.messages()
	assert.Equal(t, "ntg.races", msgs[0].subject)
	var rm RacesMessage
	require.NoError(t, json.Unmarshal(msgs[0].data, &rm))
	require.Len(t, rm.Races, 1)
	assert.Equal(t, "race_1", rm.Races[0].ID)
	assert.Equal(t, msgs[0].data, conn.kv[KeyLatestRaces])

	assert.Equal(t, "ntg.errors", msgs[1].subject)
	var em ErrorMessage
	require.NoError(t, json.Unmarshal(msgs[1].data, &em))
	assert.Equal(t, ErrorMessage{Op: "fetch", Error: "timeout"}, em)
}
