// Telco REST client.
//
// Thin wrapper over the Twilio SDK for the two call-control operations the
// bridge needs: placing an outbound call with answering-machine detection,
// and finalizing a call.

package telco

import (
	"errors"
	"fmt"
	"log"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Call-not-in-progress error code returned when completing a call twice.
const errCodeCallNotInProgress = 21220

// CallAPI is the subset of the Twilio REST API the bridge uses.
type CallAPI interface {
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioapi.UpdateCallParams) (*twilioapi.ApiV2010Call, error)
}

// Client places and finalizes calls through the Telco SDK.
type Client struct {
	api  CallAPI
	from string
}

// NewClient creates a client authenticated with account SID and auth token.
func NewClient(accountSID, authToken, fromNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, from: fromNumber}
}

// NewClientWithAPI creates a client over a custom API implementation (tests).
func NewClientWithAPI(api CallAPI, fromNumber string) *Client {
	return &Client{api: api, from: fromNumber}
}

// PlaceCall starts an outbound call whose answer webhook is answerURL.
// Machine detection runs through message end so voicemail greetings are
// classified, and status callbacks carry the AMD result.
func (c *Client) PlaceCall(to, answerURL, statusCallbackURL string) (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(answerURL)
	params.SetMachineDetection("DetectMessageEnd")
	params.SetStatusCallback(statusCallbackURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("create call response missing sid")
	}

	log.Printf("[Telco] Outbound call created: %s -> %s", *resp.Sid, to)
	return *resp.Sid, nil
}

// EndCall finalizes a call by setting its status to completed. Ending a
// call that already completed is treated as success.
func (c *Client) EndCall(callSid string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")

	if _, err := c.api.UpdateCall(callSid, params); err != nil {
		if isAlreadyCompleted(err) {
			log.Printf("[Telco] Call %s already completed", callSid)
			return nil
		}
		return fmt.Errorf("failed to end call %s: %w", callSid, err)
	}
	return nil
}

// isAlreadyCompleted reports whether the SDK error means the call is no
// longer in progress (ended by the far side or a previous request).
func isAlreadyCompleted(err error) bool {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Code == errCodeCallNotInProgress || restErr.Status == 404
}
