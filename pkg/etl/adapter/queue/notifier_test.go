package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
)

type recordingConn struct {
	bodies [][]byte
}

func (r *recordingConn) Close() error { return nil }
func (r *recordingConn) Type() string { return "recording" }
func (r *recordingConn) Name() string { return "recording" }
func (r *recordingConn) Publish(_ context.Context, body []byte) error {
	r.bodies = append(r.bodies, body)
	return nil
}
func (r *recordingConn) Consume(context.Context, queue.Subscription) error { return nil }

func TestNotifierPublishesS3Event(t *testing.T) {
	conn := &recordingConn{}
	n := queue.NewNotifier(conn)
	obj := port.ObjectCreated{Bucket: "helsinki-city-bikes-bucket", Key: "2021-06/data_by_month/2021-06.csv", Size: 42, ETag: "abc"}
	require.NoError(t, n.Notify(context.Background(), obj))
	require.Len(t, conn.bodies, 1)

	var ev events.S3Event
	require.NoError(t, json.Unmarshal(conn.bodies[0], &ev))
	require.Len(t, ev.Records, 1)
	rec := ev.Records[0]
	assert.Equal(t, queue.ObjectCreatedPut, rec.EventName)
	assert.Equal(t, "helsinki-city-bikes-bucket", rec.S3.Bucket.Name)
	assert.Equal(t, obj.Key, rec.S3.Object.URLDecodedKey)
	assert.Equal(t, int64(42), rec.S3.Object.Size)
	assert.NotEmpty(t, rec.S3.Object.Sequencer)
}

func TestEncodeObjectCreatedEscapesKey(t *testing.T) {
	body, err := queue.EncodeObjectCreated(port.ObjectCreated{Bucket: "b", Key: "2021-06/x y.csv"}, time.Unix(0, 1))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"key":"2021-06%2Fx+y.csv"`)
}

func TestSubscriptionSettle(t *testing.T) {
	sub := queue.Subscription{}
	assert.True(t, sub.Settle(nil))
	assert.False(t, sub.Settle(assert.AnError))
	sub.Permanent = func(error) bool { return true }
	assert.True(t, sub.Settle(assert.AnError))
}
