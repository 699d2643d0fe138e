package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	event, handler string
	failed         bool
}

type fakeRecorder struct {
	calls []recorded
}

func (f *fakeRecorder) RecordEventHandler(event, handler string, err error) {
	f.calls = append(f.calls, recorded{event: event, handler: handler, failed: err != nil})
}

func TestDispatchRunsHandlersInOrder(t *testing.T) {
	reg := NewRegistry(nil, nil)
	var order []string
	for _, name := range []string{"exam", "credit", "search"} {
		name := name
		On(reg, name, Tolerate, func(ctx context.Context, ev CoursePublished) error {
			order = append(order, name+":"+ev.CourseKey)
			return nil
		})
	}

	require.NoError(t, reg.Dispatch(context.Background(), CoursePublished{CourseKey: "course-v1:edX+DemoX+2024"}))
	assert.Equal(t, []string{
		"exam:course-v1:edX+DemoX+2024",
		"credit:course-v1:edX+DemoX+2024",
		"search:course-v1:edX+DemoX+2024",
	}, order)
	assert.Equal(t, []string{"exam", "credit", "search"}, reg.Handlers(KindCoursePublished))
}

func TestDispatchToleratesFailure(t *testing.T) {
	rec := &fakeRecorder{}
	reg := NewRegistry(nil, rec)
	var ran []string
	On(reg, "exam", Tolerate, func(ctx context.Context, ev CoursePublished) error {
		ran = append(ran, "exam")
		return errors.New("proctoring down")
	})
	On(reg, "credit", Propagate, func(ctx context.Context, ev CoursePublished) error {
		ran = append(ran, "credit")
		return nil
	})

	require.NoError(t, reg.Dispatch(context.Background(), CoursePublished{CourseKey: "k"}))
	assert.Equal(t, []string{"exam", "credit"}, ran)
	require.Len(t, rec.calls, 2)
	assert.True(t, rec.calls[0].failed)
	assert.False(t, rec.calls[1].failed)
}

func TestDispatchPropagatesFailure(t *testing.T) {
	reg := NewRegistry(nil, nil)
	boom := errors.New("credit unavailable")
	var ran []string
	On(reg, "credit", Propagate, func(ctx context.Context, ev CoursePublished) error {
		ran = append(ran, "credit")
		return boom
	})
	On(reg, "search", Tolerate, func(ctx context.Context, ev CoursePublished) error {
		ran = append(ran, "search")
		return nil
	})

	err := reg.Dispatch(context.Background(), CoursePublished{CourseKey: "k"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"credit"}, ran)
}

func TestDispatchWithoutHandlers(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Dispatch(context.Background(), LibraryUpdated{LibraryKey: "lib"}))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := Encode(ItemDeleted{UsageKey: "block-v1:edX+DemoX+2024+type@vertical+block@u1", UserID: 7})
	require.NoError(t, err)
	assert.Equal(t, KindItemDeleted, env.Type)

	ev, err := Decode(env)
	require.NoError(t, err)
	deleted, ok := ev.(ItemDeleted)
	require.True(t, ok)
	assert.Equal(t, int64(7), deleted.UserID)

	_, err = Decode(Envelope{Type: "unknown", Payload: json.RawMessage(`{}`)})
	var unknown ErrUnknownKind
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Kind("unknown"), unknown.Kind)

	_, err = Decode(Envelope{Type: KindCoursePublished, Payload: json.RawMessage(`{`)})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

type captureDispatcher struct {
	envs []Envelope
}

func (c *captureDispatcher) DispatchEnvelope(ctx context.Context, env Envelope) error {
	c.envs = append(c.envs, env)
	return nil
}

func TestSubscriberHandleDecodesMessages(t *testing.T) {
	capture := &captureDispatcher{}
	sub := NewSubscriber(nil, "lms.events", capture, nil)

	sub.handle(context.Background(), `{"type":"library_updated","payload":{"library_key":"lib-v1:edX+Lib"}}`)
	sub.handle(context.Background(), `not json`)

	require.Len(t, capture.envs, 1)
	assert.Equal(t, KindLibraryUpdated, capture.envs[0].Type)
}
