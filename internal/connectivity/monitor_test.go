package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"resty.dev/v3"
)

func TestMonitor_Check(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	m := newMonitor(resty.New(), server.URL)
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	steps := []struct {
		name       string
		status     int
		wantOnline bool
		wantSignal bool
	}{
		{name: "initially online", status: http.StatusOK, wantOnline: true, wantSignal: false},
		{name: "server down", status: http.StatusBadGateway, wantOnline: false, wantSignal: false},
		{name: "still down", status: http.StatusServiceUnavailable, wantOnline: false, wantSignal: false},
		{name: "back online", status: http.StatusNoContent, wantOnline: true, wantSignal: true},
		{name: "not found still counts as reachable", status: http.StatusNotFound, wantOnline: true, wantSignal: false},
	}

	for _, step := range steps {
		status.Store(int32(step.status))
		assert.Equal(t, step.wantOnline, m.Check(ctx), step.name)
		assert.Equal(t, step.wantOnline, m.IsOnline(), step.name)

		select {
		case <-m.Online():
			assert.True(t, step.wantSignal, step.name)
		default:
			assert.False(t, step.wantSignal, step.name)
		}
	}
}

func TestMonitor_Check_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	m := newMonitor(resty.New(), url)
	defer func() { _ = m.Close() }()
	assert.False(t, m.Check(context.Background()))
}

func TestMonitor_Check_NoURL(t *testing.T) {
	m := NewMonitor("")
	defer func() { _ = m.Close() }()
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsOnline())
}
