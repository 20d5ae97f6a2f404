package telco

import (
	"errors"
	"testing"

	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCallAPI struct {
	created    []*twilioapi.CreateCallParams
	updated    map[string]*twilioapi.UpdateCallParams
	createErr  error
	updateErr  error
	returnSid  string
	updateHits int
}

func newFakeCallAPI() *fakeCallAPI {
	return &fakeCallAPI{updated: make(map[string]*twilioapi.UpdateCallParams), returnSid: "CA1"}
}

func (f *fakeCallAPI) CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	sid := f.returnSid
	return &twilioapi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallAPI) UpdateCall(sid string, params *twilioapi.UpdateCallParams) (*twilioapi.ApiV2010Call, error) {
	f.updateHits++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated[sid] = params
	return &twilioapi.ApiV2010Call{Sid: &sid}, nil
}

func TestPlaceCall(t *testing.T) {
	api := newFakeCallAPI()
	client := NewClientWithAPI(api, "+15550001111")

	sid, err := client.PlaceCall("+15551234", "https://h/outbound-call-twiml", "https://h/call-status")
	if err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if sid != "CA1" {
		t.Errorf("expected CA1, got %s", sid)
	}

	params := api.created[0]
	if params.MachineDetection == nil || *params.MachineDetection != "DetectMessageEnd" {
		t.Error("machine detection must be enabled through message end")
	}
	if params.StatusCallback == nil || *params.StatusCallback != "https://h/call-status" {
		t.Error("status callback not set")
	}
}

func TestEndCall(t *testing.T) {
	api := newFakeCallAPI()
	client := NewClientWithAPI(api, "+15550001111")

	if err := client.EndCall("CA9"); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}
	params := api.updated["CA9"]
	if params.Status == nil || *params.Status != "completed" {
		t.Error("call must be finalized with status completed")
	}
}

func TestEndCall_AlreadyCompletedIsIdempotent(t *testing.T) {
	api := newFakeCallAPI()
	api.updateErr = &twilioclient.TwilioRestError{Code: 21220, Status: 400, Message: "Call is not in-progress"}
	client := NewClientWithAPI(api, "+15550001111")

	if err := client.EndCall("CA9"); err != nil {
		t.Errorf("ending a completed call should succeed, got %v", err)
	}
}

func TestEndCall_OtherErrorSurfaces(t *testing.T) {
	api := newFakeCallAPI()
	api.updateErr = errors.New("network down")
	client := NewClientWithAPI(api, "+15550001111")

	if err := client.EndCall("CA9"); err == nil {
		t.Error("unexpected success")
	}
}
