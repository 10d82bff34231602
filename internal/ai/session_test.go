package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCommentator struct {
	chunks []string
	err    error
}

func (f *fakeCommentator) Enabled() bool { return true }

func (f *fakeCommentator) Stream(ctx context.Context, op OperationPayload, onChunk func(string) error) error {
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession()
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StateIdle, s.State())

	ev, err := s.Begin()
	require.NoError(t, err)
	assert.Equal(t, StateRequesting, ev.State)
	assert.Equal(t, s.ID, ev.SessionID)

	ev, err = s.Chunk(`{"performanceAnalysis":[{"severity":"warning","message":"mod`)
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, ev.State)
	require.NotNil(t, ev.Partial)
	require.Len(t, ev.Partial.PerformanceAnalysis, 1)
	assert.Equal(t, "mod", ev.Partial.PerformanceAnalysis[0].Message)

	ev, err = s.Chunk(`erate"}],"suggestedIndexes":[],"suggestedQueryText":"db.c.find()"}`)
	require.NoError(t, err)
	assert.Equal(t, "moderate", ev.Partial.PerformanceAnalysis[0].Message)

	ev, err = s.Finish()
	require.NoError(t, err)
	assert.Equal(t, StateComplete, ev.State)
	require.NotNil(t, ev.Result)
	assert.Equal(t, "db.c.find()", ev.Result.SuggestedQueryText)
	assert.Nil(t, ev.Partial)
}

func TestSession_FinishWithTruncatedTextFails(t *testing.T) {
	s := NewSession()
	_, err := s.Begin()
	require.NoError(t, err)
	_, err = s.Chunk(`{"performanceAnalysis":[`)
	require.NoError(t, err)

	ev, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, StateFailed, ev.State)
	assert.NotEmpty(t, ev.Error)
	assert.ErrorIs(t, s.Err(), ErrUnparseable)
}

func TestSession_InvalidTransitions(t *testing.T) {
	s := NewSession()
	_, err := s.Chunk("x")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.Finish()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Begin()
	require.NoError(t, err)
	_, err = s.Begin()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Fail(errors.New("network"))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.State())

	for _, step := range []func() (Event, error){
		s.Begin,
		func() (Event, error) { return s.Chunk("x") },
		s.Finish,
		func() (Event, error) { return s.Fail(errors.New("again")) },
	} {
		_, err := step()
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.EqualError(t, s.Err(), "network")
}

func TestRun(t *testing.T) {
	c := &fakeCommentator{chunks: []string{
		`{"performanceAnalysis":[],"suggestedIn`,
		`dexes":[{"indexDefinitionText":"db.c.createIndex({a:1})","rationaleMessage":"r"}],`,
		`"suggestedQueryText":"q"}`,
	}}

	var states []State
	result, err := Run(context.Background(), c, OperationPayload{}, func(ev Event) error {
		states = append(states, ev.State)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "q", result.SuggestedQueryText)
	assert.Equal(t, []State{StateRequesting, StateStreaming, StateStreaming, StateStreaming, StateComplete}, states)
}

func TestRun_StreamError(t *testing.T) {
	c := &fakeCommentator{chunks: []string{`{"perf`}, err: errors.New("quota exceeded")}

	var last Event
	_, err := Run(context.Background(), c, OperationPayload{}, func(ev Event) error {
		last = ev
		return nil
	})
	assert.EqualError(t, err, "quota exceeded")
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, "quota exceeded", last.Error)
}

func TestRun_EmitErrorAbortsStream(t *testing.T) {
	c := &fakeCommentator{chunks: []string{`{`, `}`}}
	gone := errors.New("client went away")

	calls := 0
	_, err := Run(context.Background(), c, OperationPayload{}, func(ev Event) error {
		calls++
		if ev.State == StateStreaming {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 3, calls)
}

func TestGeminiCommentator_DisabledWithoutKey(t *testing.T) {
	c, err := NewGeminiCommentator(context.Background(), GeminiConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	assert.Equal(t, DefaultModel, c.model)

	err = c.Stream(context.Background(), OperationPayload{}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrDisabled)
}
