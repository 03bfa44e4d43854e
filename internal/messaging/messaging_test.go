package messaging

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")

	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "bad payload", err.Error())

	wrapped := fmt.Errorf("decode batch: %w", err)
	assert.True(t, IsPermanent(wrapped))
}

func TestBatchSubject(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{kind: "logs", want: SubjectBatchesLogs},
		{kind: "metrics", want: SubjectBatchesMetrics},
		{kind: "traces", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.want, BatchSubject(tt.kind))
		})
	}
}

func TestSubjects_CapturedByStream(t *testing.T) {
	prefix := strings.TrimSuffix(SubjectBatchesAll, ">")
	for _, s := range []string{SubjectBatchesLogs, SubjectBatchesMetrics} {
		assert.True(t, strings.HasPrefix(s, prefix), s)
	}
	assert.False(t, strings.HasPrefix(SubjectResultsBatch, prefix), "results must not land in the work queue")
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func TestCheckHealth(t *testing.T) {
	status := CheckHealth(fakeConn(true))
	assert.True(t, status.Connected)
	assert.Empty(t, status.Error)

	status = CheckHealth(fakeConn(false))
	assert.False(t, status.Connected)
	assert.Equal(t, "not connected to message broker", status.Error)

	status = CheckHealth(nil)
	assert.False(t, status.Connected)
	assert.Equal(t, "messaging disabled", status.Error)
}
