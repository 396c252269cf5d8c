package queue

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/tigerroll/citybike/pkg/etl/core/port"
)

// ObjectCreatedPut is the event name S3 uses for a PUT.
const ObjectCreatedPut = "ObjectCreated:Put"

// Notifier publishes S3-shaped ObjectCreated events, for object stores that do not emit
// notifications themselves (local, gcs).
type Notifier struct {
	conn QueueConnection
	now  func() time.Time
}

var _ port.Notifier = (*Notifier)(nil)

func NewNotifier(conn QueueConnection) *Notifier {
	return &Notifier{conn: conn, now: time.Now}
}

func (n *Notifier) Notify(ctx context.Context, obj port.ObjectCreated) error {
	body, err := EncodeObjectCreated(obj, n.now())
	if err != nil {
		return err
	}
	return n.conn.Publish(ctx, body)
}

// EncodeObjectCreated renders obj as an S3 event notification body. The key is
// URL-encoded the way S3 encodes it.
func EncodeObjectCreated(obj port.ObjectCreated, at time.Time) ([]byte, error) {
	ev := events.S3Event{Records: []events.S3EventRecord{{
		EventVersion: "2.1",
		EventSource:  "aws:s3",
		EventTime:    at.UTC(),
		EventName:    ObjectCreatedPut,
		S3: events.S3Entity{
			SchemaVersion: "1.0",
			Bucket:        events.S3Bucket{Name: obj.Bucket, Arn: "arn:aws:s3:::" + obj.Bucket},
			Object: events.S3Object{
				Key:       url.QueryEscape(obj.Key),
				Size:      obj.Size,
				ETag:      obj.ETag,
				Sequencer: sequencer(at),
			},
		},
	}}}
	return json.Marshal(ev)
}

func sequencer(at time.Time) string {
	return strings.ToUpper(strconv.FormatInt(at.UnixNano(), 16))
}
