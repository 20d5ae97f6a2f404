package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcall/voicebridge/pkg/agent"
)

func newTestDispatcher(handler http.Handler) (*Dispatcher, *httptest.Server) {
	srv := httptest.NewServer(handler)
	calendar := NewCalendarClient("test-key", WithCalendarEndpoint(srv.URL))
	return NewDispatcher(calendar), srv
}

func TestDispatchGetCurrentTime(t *testing.T) {
	d := NewDispatcher(NewCalendarClient("unused"))
	d.now = func() time.Time {
		return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	}

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetCurrentTime,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{},
	})

	require.False(t, result.IsError)
	assert.Equal(t, "client_tool_result", result.Type)
	assert.Equal(t, "t1", result.ToolCallID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Result), &payload))
	assert.Equal(t, "Australia/Brisbane", payload["timezone"])
	assert.Contains(t, payload["current_time"], "2025-02-01")
}

func TestDispatchGetCurrentTimeExplicitTimezone(t *testing.T) {
	d := NewDispatcher(NewCalendarClient("unused"))

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetCurrentTime,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{"timezone": "Australia/Perth"},
	})

	require.False(t, result.IsError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Result), &payload))
	assert.Equal(t, "Australia/Perth", payload["timezone"])
}

func TestDispatchAvailableSlots(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string
	d, srv := newTestDispatcher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"eventTypeId": r.URL.Query().Get("eventTypeId"),
			"start":       r.URL.Query().Get("start"),
			"end":         r.URL.Query().Get("end"),
			"timeZone":    r.URL.Query().Get("timeZone"),
		}
		w.Write([]byte(`{"data":{"slots":[]}}`))
	}))
	defer srv.Close()

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetAvailableSlots,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{
			"eventTypeId": "2171540",
			"start":       "2025-02-01",
			"end":         "2025-02-07",
			"timeZone":    "Australia/Perth",
		},
	})

	require.False(t, result.IsError, "result: %s", result.Result)
	assert.Equal(t, `{"data":{"slots":[]}}`, result.Result)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "2171540", gotQuery["eventTypeId"])
	assert.Equal(t, "2025-02-01", gotQuery["start"])
	assert.Equal(t, "2025-02-07", gotQuery["end"])
	assert.Equal(t, "Australia/Perth", gotQuery["timeZone"])
}

func TestDispatchAvailableSlotsDefaults(t *testing.T) {
	var gotQuery map[string]string
	d, srv := newTestDispatcher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"end":      r.URL.Query().Get("end"),
			"timeZone": r.URL.Query().Get("timeZone"),
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetAvailableSlots,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{
			"eventTypeId": float64(2171540),
			"start":       "2025-02-01",
			"timeZone":    "Not/AZone",
		},
	})

	require.False(t, result.IsError)
	assert.Equal(t, "2025-02-01", gotQuery["end"], "end should default to start")
	assert.Equal(t, "Australia/Brisbane", gotQuery["timeZone"], "bad timezone should fall back")
}

func TestDispatchAvailableSlotsMissingEventType(t *testing.T) {
	d := NewDispatcher(NewCalendarClient("unused"))

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetAvailableSlots,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{"start": "2025-02-01"},
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Result, "eventTypeId")
}

func TestDispatchAvailableSlotsBadDate(t *testing.T) {
	d := NewDispatcher(NewCalendarClient("unused"))

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetAvailableSlots,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{
			"eventTypeId": "2171540",
			"start":       "01/02/2025",
		},
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Result, "YYYY-MM-DD")
}

func TestDispatchBookMeeting(t *testing.T) {
	var gotBody map[string]interface{}
	d, srv := newTestDispatcher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/bookings", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolBookMeeting,
		ToolCallID: "t2",
		Parameters: map[string]interface{}{
			"eventTypeId": float64(2171540),
			"attendee":    map[string]interface{}{"name": "Alice"},
		},
	})

	require.False(t, result.IsError)
	assert.Equal(t, `{"status":"success"}`, result.Result)
	assert.Equal(t, float64(2171540), gotBody["eventTypeId"])
}

func TestDispatchBackendFailure(t *testing.T) {
	d, srv := newTestDispatcher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such event type"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   ToolGetAvailableSlots,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{
			"eventTypeId": "999",
			"start":       "2025-02-01",
		},
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Result, "404")
	assert.Contains(t, result.Result, "no such event type")
}

func TestDispatchTimeout(t *testing.T) {
	d, srv := newTestDispatcher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := d.Dispatch(ctx, &agent.ToolCallRequest{
		ToolName:   ToolGetAvailableSlots,
		ToolCallID: "t1",
		Parameters: map[string]interface{}{
			"eventTypeId": "2171540",
			"start":       "2025-02-01",
		},
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Result, "timed out")
}

func TestDispatchEndCallTools(t *testing.T) {
	d := NewDispatcher(NewCalendarClient("unused"))

	for _, name := range []string{ToolEndCall, ToolEndVoicemailCall} {
		result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
			ToolName:   name,
			ToolCallID: "t9",
			Parameters: map[string]interface{}{},
		})
		assert.False(t, result.IsError)
		assert.Contains(t, result.Result, "acknowledged")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(NewCalendarClient("unused"))

	result := d.Dispatch(context.Background(), &agent.ToolCallRequest{
		ToolName:   "launch_rocket",
		ToolCallID: "t1",
	})

	assert.True(t, result.IsError)
	assert.True(t, strings.Contains(result.Result, "unknown tool"))
}
