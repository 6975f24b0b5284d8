package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrNoRecords is returned for an event without object records.
var ErrNoRecords = errors.New("event has no records")

// Event is an object-created notification in the S3 event layout, the
// trigger format of the batch mode.
type Event struct {
	Records []EventRecord `json:"Records"`
}

// EventRecord is one object in an Event.
type EventRecord struct {
	EventName string `json:"eventName,omitempty"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size,omitempty"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseEvent decodes an event document.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if len(ev.Records) == 0 {
		return nil, ErrNoRecords
	}
	return &ev, nil
}

// Keys returns the object keys of the event, percent-decoded as delivered
// by the notification.
func (e *Event) Keys() ([]string, error) {
	keys := make([]string, 0, len(e.Records))
	for i, rec := range e.Records {
		key, err := url.PathUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if key == "" {
			return nil, fmt.Errorf("record %d has no object key", i)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ReduceEvent reduces every object named by ev from the configured input
// bucket, in order. A failed object does not stop the batch; all errors
// are joined. Cancelling ctx stops before the next object.
func (r *Runner) ReduceEvent(ctx context.Context, ev *Event) ([]*Outcome, error) {
	keys, err := ev.Keys()
	if err != nil {
		return nil, err
	}

	var (
		outcomes []*Outcome
		errs     []error
	)
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if b := ev.Records[i].S3.Bucket.Name; b != "" && b != r.cfg.GetInputBucket() {
			tracef("%s: event bucket %q differs from input bucket %q", key, b, r.cfg.GetInputBucket())
		}
		out, err := r.Reduce(ctx, key)
		outcomes = append(outcomes, out)
		if err != nil {
			errs = append(errs, err)
		}
	}
	diagf("batch of %d objects: %d failed", len(keys), len(errs))
	return outcomes, errors.Join(errs...)
}
