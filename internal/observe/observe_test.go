package observe

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

type fakePublisher struct {
	mu   sync.Mutex
	subj []string
	data [][]byte
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subj = append(p.subj, subject)
	p.data = append(p.data, data)
	return nil
}

func TestMultiFansOutInOrder(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	s := Multi(a, nil, b)
	s.Emit(New(JobCompleted, map[string]any{"jobId": "e1"}))

	require.Len(t, a.Records(), 1)
	require.Len(t, b.Records(), 1)
	assert.Equal(t, "e1", b.Records()[0].Fields["jobId"])
}

func TestMultiSingleSinkIsUnwrapped(t *testing.T) {
	r := NewRecorder()
	assert.Same(t, r, Multi(r, nil))
}

func TestRecorderWaitFor(t *testing.T) {
	r := NewRecorder()
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Emit(New(JobStarted, nil))
		r.Emit(New(JobStarted, nil))
	}()
	assert.True(t, r.WaitFor(2*time.Second, Count(JobStarted, 2)))
	assert.False(t, r.WaitFor(20*time.Millisecond, Count(JobFailed, 1)))
	assert.Len(t, r.Kinds(JobStarted), 2)
}

func TestNATSSinkSubjectAndBody(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "pipeline.", nil)
	s.Emit(New(EventEnqueued, map[string]any{"eventId": "e1", "offset": 7}))

	require.Len(t, pub.subj, 1)
	assert.Equal(t, "pipeline.event-enqueued", pub.subj[0])

	var got Record
	require.NoError(t, json.Unmarshal(pub.data[0], &got))
	assert.Equal(t, EventEnqueued, got.Kind)
	assert.Equal(t, "e1", got.Fields["eventId"])
}

func TestNATSSinkSwallowsPublishErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := logpkg.NewLogger(logpkg.WithOutput(&buf), logpkg.WithFormat(logpkg.FormatJSON))
	s := NewNATSSink(&fakePublisher{err: errors.New("no responders")}, "", logger)
	s.Emit(New(JobFailed, nil))
	assert.Contains(t, buf.String(), "Publish record failed")
	assert.Contains(t, buf.String(), "eventpipe.job-failed")
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logpkg.NewLogger(logpkg.WithOutput(&buf), logpkg.WithFormat(logpkg.FormatJSON))
	s := NewLogSink(logger)

	s.Emit(New(JobCompleted, map[string]any{"jobId": "e1"}))
	s.Emit(New(JobFailed, map[string]any{"jobId": "e2", "error": "boom"}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "Job completed", first["msg"])
	assert.Equal(t, "e1", first["jobId"])
	assert.Equal(t, "ERROR", second["level"])
	assert.Equal(t, "boom", second["error"])
}
