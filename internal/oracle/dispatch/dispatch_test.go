package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos/internal/oracle/models"
	"sos/pkg/domain"
	"sos/pkg/platform/circuit"
)

type recordingPublisher struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
	err     error
	calls   int
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.calls++
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return p.err
}

func request() models.OutboundRequest {
	return models.OutboundRequest{
		ID:         common.HexToHash("0xabc"),
		Oracle:     common.HexToAddress("0x0a"),
		JobID:      domain.MustName("JOB_1"),
		RequestID:  4,
		CheckIndex: 2,
		Payload:    []byte{1, 2, 3},
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory(1)
	require.NoError(t, m.Dispatch(context.Background(), request()))
	require.NoError(t, m.Dispatch(context.Background(), request()))

	assert.Len(t, m.Requests(), 2)
	select {
	case got := <-m.C():
		assert.Equal(t, domain.RequestID(4), got.RequestID)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestKafka(t *testing.T) {
	pub := &recordingPublisher{}
	require.NoError(t, NewKafka(pub, "sos.oracle.requests").Dispatch(context.Background(), request()))

	assert.Equal(t, "sos.oracle.requests", pub.topic)
	assert.Equal(t, common.HexToHash("0xabc").Bytes(), pub.key)
	assert.Equal(t, "JOB_1", pub.headers["job_id"])

	var decoded models.OutboundRequest
	require.NoError(t, json.Unmarshal(pub.value, &decoded))
	assert.Equal(t, 2, decoded.CheckIndex)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Payload)
	assert.Equal(t, domain.MustName("JOB_1"), decoded.JobID)
}

func TestGuarded(t *testing.T) {
	now := time.Unix(0, 0)
	breaker := circuit.New("oracle",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	pub := &recordingPublisher{err: errors.New("broker down")}
	var transitions []bool
	g := NewGuarded(NewKafka(pub, "t"), breaker, func(open bool) { transitions = append(transitions, open) })
	ctx := context.Background()

	assert.Error(t, g.Dispatch(ctx, request()))
	assert.Error(t, g.Dispatch(ctx, request()))
	assert.ErrorIs(t, g.Dispatch(ctx, request()), ErrCircuitOpen)
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, []bool{true}, transitions)

	now = now.Add(2 * time.Minute)
	pub.err = nil
	require.NoError(t, g.Dispatch(ctx, request()))
	assert.Equal(t, []bool{true, false}, transitions)
	assert.False(t, breaker.IsOpen())
}
