// Package tools executes agent-initiated tool calls against the calendar
// backend and maps failures into result envelopes the agent understands.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/brightcall/voicebridge/pkg/agent"
	"github.com/brightcall/voicebridge/pkg/trace"
)

// Tool names recognized by the dispatcher.
const (
	ToolGetCurrentTime    = "get_current_time"
	ToolGetAvailableSlots = "get_available_slots"
	ToolBookMeeting       = "book_meeting"
	ToolEndCall           = "end_call"
	ToolEndVoicemailCall  = "end_voicemail_call"
)

const defaultTimeZone = "Australia/Brisbane"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Dispatcher routes tool calls to their handlers. A dispatch never fails
// the session: every outcome is an envelope, errors included.
type Dispatcher struct {
	calendar *CalendarClient
	now      func() time.Time
}

// NewDispatcher creates a dispatcher backed by the given calendar client.
func NewDispatcher(calendar *CalendarClient) *Dispatcher {
	return &Dispatcher{calendar: calendar, now: time.Now}
}

// Dispatch executes the tool call and returns the result envelope. The
// call runs under the same 10 s budget as the backend HTTP timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, call *agent.ToolCallRequest) agent.ToolResult {
	ctx, cancel := context.WithTimeout(ctx, calendarTimeout)
	defer cancel()

	ctx, span := trace.StartSpan(ctx, "tools.Dispatch",
		oteltrace.WithAttributes(trace.ToolAttrs(call.ToolName, call.ToolCallID)...))
	defer span.End()

	log.Printf("[Tools] Dispatching %s (call id %s)", call.ToolName, call.ToolCallID)

	result, err := d.execute(ctx, call)
	if err != nil {
		trace.RecordError(span, err)
		log.Printf("[Tools] %s failed: %v", call.ToolName, err)
		return errorResult(call.ToolCallID, err)
	}
	return agent.ToolResult{
		Type:       "client_tool_result",
		ToolCallID: call.ToolCallID,
		Result:     result,
	}
}

func (d *Dispatcher) execute(ctx context.Context, call *agent.ToolCallRequest) (string, error) {
	switch call.ToolName {
	case ToolGetCurrentTime:
		return d.currentTime(call.Parameters)
	case ToolGetAvailableSlots:
		return d.availableSlots(ctx, call.Parameters)
	case ToolBookMeeting:
		return d.calendar.BookMeeting(ctx, call.Parameters)
	case ToolEndCall, ToolEndVoicemailCall:
		// The session drives the actual close; the tool just acknowledges.
		return `{"status":"acknowledged"}`, nil
	default:
		return "", fmt.Errorf("unknown tool %q", call.ToolName)
	}
}

func (d *Dispatcher) currentTime(params map[string]interface{}) (string, error) {
	tz := stringParam(params, "timezone")
	loc, err := time.LoadLocation(tz)
	if tz == "" || err != nil {
		loc, _ = time.LoadLocation(defaultTimeZone)
		tz = defaultTimeZone
	}

	payload, err := json.Marshal(map[string]string{
		"current_time": d.now().In(loc).Format(time.RFC3339),
		"timezone":     tz,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (d *Dispatcher) availableSlots(ctx context.Context, params map[string]interface{}) (string, error) {
	eventTypeID := stringParam(params, "eventTypeId")
	if eventTypeID == "" {
		return "", errMissingParam("eventTypeId")
	}

	start := stringParam(params, "start")
	if !dateRe.MatchString(start) {
		return "", fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", start)
	}

	end := stringParam(params, "end")
	if end == "" {
		end = start
	}
	if !dateRe.MatchString(end) {
		return "", fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", end)
	}

	timeZone := stringParam(params, "timeZone")
	if _, err := time.LoadLocation(timeZone); timeZone == "" || err != nil {
		timeZone = defaultTimeZone
	}

	return d.calendar.AvailableSlots(ctx, eventTypeID, start, end, timeZone)
}

func errMissingParam(name string) error {
	return fmt.Errorf("missing required parameter %q", name)
}

// errorResult wraps a failure into an is_error envelope. Timeouts must
// surface as "timed out" for the agent's retry prompt to trigger.
func errorResult(toolCallID string, err error) agent.ToolResult {
	message := err.Error()
	if isTimeout(err) {
		message = "request timed out after " + calendarTimeout.String()
	}

	payload, _ := json.Marshal(map[string]string{"error": message})
	return agent.ToolResult{
		Type:       "client_tool_result",
		ToolCallID: toolCallID,
		Result:     string(payload),
		IsError:    true,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}

func stringParam(params map[string]interface{}, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// Numeric ids arrive as JSON numbers.
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
