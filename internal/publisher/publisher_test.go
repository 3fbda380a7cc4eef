package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/pkg/model"
)

// --- mock types ---

type mockJetStream struct {
	published []*nats.Msg
	fail      bool

	streams    map[string]bool
	infoErr    error
	addedCfg   *nats.StreamConfig
	addStreamE error
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func (m *mockJetStream) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	if m.streams[stream] {
		return &nats.StreamInfo{Config: nats.StreamConfig{Name: stream}}, nil
	}
	return nil, nats.ErrStreamNotFound
}

func (m *mockJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if m.addStreamE != nil {
		return nil, m.addStreamE
	}
	m.addedCfg = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func newEnvelope() *model.Envelope {
	return model.NewWebhookEnvelope("evt.quake.webhook.v1", "flow_instance.completed", "acme",
		time.Unix(1_748_779_200, 0), []byte(`{"event":"flow_instance.completed"}`))
}

func TestPublishEnvelope_Success(t *testing.T) {
	js := &mockJetStream{}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "quake-webhooks", zap.NewNop())
	env := newEnvelope()

	require.NoError(t, p.PublishEnvelope(context.Background(), "", env))
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, "evt.quake.webhook.v1.flow_instance.completed", msg.Subject)
	assert.Equal(t, "flow_instance.completed", msg.Header.Get("event_type"))
	assert.Equal(t, "acme", msg.Header.Get("company_id"))
	assert.Equal(t, "quake-webhooks", msg.Header.Get("service"))
	assert.Equal(t, env.ID.String(), msg.Header.Get(nats.MsgIdHdr))

	var decoded model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
	assert.JSONEq(t, `{"event":"flow_instance.completed"}`, string(decoded.Payload))
}

func TestPublishEnvelope_ExplicitSubject(t *testing.T) {
	js := &mockJetStream{}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "svc", nil)

	require.NoError(t, p.PublishEnvelope(context.Background(), "custom.subject", newEnvelope()))
	assert.Equal(t, "custom.subject", js.published[0].Subject)
}

func TestPublishEnvelope_Failure(t *testing.T) {
	js := &mockJetStream{fail: true}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "svc", nil)

	err := p.PublishEnvelope(context.Background(), "", newEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock publish error")
}

func TestPublishEnvelope_CancelledContext(t *testing.T) {
	js := &mockJetStream{}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "svc", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishEnvelope(ctx, "", newEnvelope()), context.Canceled)
	assert.Empty(t, js.published)
}

func TestEnsureStream_CreatesWhenMissing(t *testing.T) {
	js := &mockJetStream{}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "svc", nil)

	require.NoError(t, p.EnsureStream("QUAKE_EVENTS"))
	require.NotNil(t, js.addedCfg)
	assert.Equal(t, "QUAKE_EVENTS", js.addedCfg.Name)
	assert.Equal(t, []string{"evt.quake.webhook.v1.>"}, js.addedCfg.Subjects)
}

func TestEnsureStream_ExistingIsLeftAlone(t *testing.T) {
	js := &mockJetStream{streams: map[string]bool{"QUAKE_EVENTS": true}}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "svc", nil)

	require.NoError(t, p.EnsureStream("QUAKE_EVENTS"))
	assert.Nil(t, js.addedCfg)
}

func TestEnsureStream_InfoError(t *testing.T) {
	js := &mockJetStream{infoErr: errors.New("timeout")}
	p := NewWithJetStream(js, "evt.quake.webhook.v1", "svc", nil)

	err := p.EnsureStream("QUAKE_EVENTS")
	require.Error(t, err)
	assert.Nil(t, js.addedCfg)
}

func TestHealthCheck_NoConnection(t *testing.T) {
	p := NewWithJetStream(&mockJetStream{}, "s", "svc", nil)
	assert.NoError(t, p.HealthCheck())
}
