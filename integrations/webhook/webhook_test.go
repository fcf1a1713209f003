package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgate/core"
)

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var hits int32
	var got core.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		assert.Equal(t, Sign([]byte("s3cret"), body), r.Header.Get(SignatureHeader))
		_ = json.Unmarshal(body, &got)
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL, srv.URL}, WithSecret("s3cret"))
	sink.OnEvent(context.Background(), core.NewDecisionMade(core.FallbackDecision("load-1")))
	sink.Close()

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	require.NotNil(t, got.Decision)
	assert.Equal(t, core.ReasonAdUnavailableFallback, got.Decision.Reason)
}

func TestSink_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithRetry(3, time.Millisecond))
	sink.OnEvent(context.Background(), core.NewRewardEarned("show-1", core.Reward{Amount: 1, Type: "unlock"}))
	sink.Close()

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, int64(0), sink.Failed())
}

func TestSink_ClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithRetry(5, time.Millisecond))
	sink.OnEvent(context.Background(), core.NewEngagementRecorded(1))
	sink.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, int64(1), sink.Failed())
}

func TestSink_ClosedOrEmptyIgnoresEvents(t *testing.T) {
	sink := New(nil)
	sink.OnEvent(context.Background(), core.NewEngagementRecorded(1))
	sink.Close()
	sink.Close()
	sink.OnEvent(context.Background(), core.NewEngagementRecorded(2))
	assert.Equal(t, int64(0), sink.Dropped())
}

func TestSink_OnEventConcurrentWithClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	for i := 0; i < 50; i++ {
		sink := New([]string{srv.URL})
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 10; k++ {
					sink.OnEvent(context.Background(), core.NewEngagementRecorded(int64(k)))
				}
			}()
		}
		sink.Close()
		wg.Wait()
	}
}
