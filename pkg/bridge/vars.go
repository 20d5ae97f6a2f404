package bridge

import (
	"fmt"
	"time"

	"github.com/brightcall/voicebridge/pkg/agent"
)

// Call directions, as exposed to the agent in CALL_DIRECTION.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound_receptionist"
)

// Session modes.
const (
	ModeLive      = "live"
	ModeVoicemail = "voicemail"
)

const dateLayout = "2006-01-02"

// callInfo is what the Telco start event tells us about the call.
type callInfo struct {
	name      string
	number    string
	recordID  string
	direction string
	extra     map[string]string
}

func newCallInfo(direction string, params map[string]string) callInfo {
	info := callInfo{
		name:      params["name"],
		number:    params["number"],
		recordID:  params["airtableRecordId"],
		direction: direction,
		extra:     map[string]string{},
	}
	for k, v := range params {
		switch k {
		case "name", "number", "airtableRecordId":
		default:
			info.extra[k] = v
		}
	}
	return info
}

// dynamicVariables builds the agent's per-call variable set. Dates are
// computed in UTC so the agent's notion of "today" is stable regardless
// of server locale.
func dynamicVariables(info callInfo, now time.Time) map[string]string {
	today := now.UTC()

	vars := map[string]string{
		"CURRENT_DATE_YYYYMMDD":   today.Format(dateLayout),
		"TOMORROW_DATE_YYYYMMDD":  today.AddDate(0, 0, 1).Format(dateLayout),
		"NEXT_WEEK_DATE_YYYYMMDD": today.AddDate(0, 0, 7).Format(dateLayout),
		"CALL_DIRECTION":          info.direction,
		"CUSTOMER_NAME":           info.name,
		"CUSTOMER_NUMBER":         info.number,
		"AIRTABLE_RECORD_ID":      info.recordID,
	}
	for k, v := range info.extra {
		if _, taken := vars[k]; !taken {
			vars[k] = v
		}
	}
	return vars
}

// agentOverride builds the first-message and prompt override for the
// session mode. Voicemail sessions get a one-shot delivery script; live
// sessions keep the agent's configured prompt.
func agentOverride(mode string, info callInfo) agent.AgentOverride {
	name := info.name
	if name == "" {
		name = "there"
	}

	if mode == ModeVoicemail {
		return agent.AgentOverride{
			FirstMessage: fmt.Sprintf(
				"Hi %s, sorry we missed you. This is a quick message from the team at Bright Call. We'll try you again soon, or feel free to call us back at your convenience. Have a great day!",
				name),
			Prompt: &agent.PromptOverride{
				Prompt: "You have reached an answering machine. Deliver the first message exactly once as a voicemail. " +
					"Do not wait for a reply and do not ask questions. " +
					"Immediately after delivering the message, invoke the end_voicemail_call tool.",
			},
		}
	}

	return agent.AgentOverride{
		FirstMessage: LiveGreeting(info.name),
	}
}

// LiveGreeting is the agent's first utterance on a live call. The server
// pre-renders this exact text so playback can start before the agent's
// own audio arrives.
func LiveGreeting(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! Thanks for taking my call, how are you today?", name)
}
