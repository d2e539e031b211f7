package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"activity-monitor/internal/alerts"
	"activity-monitor/internal/rules"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewKafkaNotifier_Validates(t *testing.T) {
	_, err := NewKafkaNotifier("", "activity.alerts")
	assert.Error(t, err)
	_, err = NewKafkaNotifier("localhost:9092", " ")
	assert.Error(t, err)

	n, err := NewKafkaNotifier("localhost:9092, localhost:9093", "activity.alerts")
	require.NoError(t, err)
	assert.NoError(t, n.Close())
}

func TestKafkaNotifier_AlertCreated(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, "activity.alerts")
	n.clock = func() time.Time { return time.Unix(1700000000, 0) }

	a := alerts.Alert{
		ID:               "a1",
		RuleName:         rules.FailedLoginBurst,
		CorrelationKey:   "1.2.3.4",
		EventIDs:         []string{"e1"},
		Severity:         rules.SeverityCritical,
		SuggestedActions: []rules.Action{rules.ActionBlockIP},
	}
	require.NoError(t, n.AlertCreated(context.Background(), a))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "failed_login_burst:1.2.3.4", string(msg.Key))

	var got Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, TypeAlertCreated, got.Type)
	assert.Equal(t, "a1", got.Alert.ID)
	assert.Equal(t, []rules.Action{rules.ActionBlockIP}, got.Alert.SuggestedActions)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_WriteErrorIsReturned(t *testing.T) {
	n := newKafkaNotifier(&fakeWriter{err: errors.New("broker down")}, "activity.alerts")
	err := n.AlertCreated(context.Background(), alerts.Alert{ID: "a1"})
	assert.ErrorContains(t, err, "broker down")
}
