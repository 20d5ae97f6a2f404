package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"github.com/brightcall/voicebridge/pkg/bridge"
	"github.com/brightcall/voicebridge/pkg/telco"
)

type outboundCallRequest struct {
	Name             string            `json:"name"`
	Number           string            `json:"number"`
	AirtableRecordID string            `json:"airtableRecordId,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is running"})
}

// handleOutboundCall places a call through the Telco and kicks off the
// per-call accelerators (URL prewarm is already running; the greeting is
// rendered while the phone rings).
func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "invalid request body",
		})
		return
	}
	if req.Number == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "number is required",
		})
		return
	}

	answerURL := s.answerURL(req)
	statusURL := s.cfg.HTTPURL("/call-status")

	callSid, err := s.deps.Calls.PlaceCall(req.Number, answerURL, statusURL)
	if err != nil {
		log.Printf("[Server] Outbound call to %s failed: %v", req.Number, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false, "error": "failed to place call",
		})
		return
	}

	if s.deps.Predictor != nil {
		s.deps.Predictor.Record()
	}
	if s.deps.Greetings != nil && req.Name != "" {
		// Synthesis outlives the request; net/http cancels r.Context()
		// as soon as the handler returns.
		s.deps.Greetings.Prewarm(context.WithoutCancel(r.Context()), req.Name, bridge.LiveGreeting(req.Name))
	}

	urlCacheSize := 0
	if s.deps.URLs != nil {
		urlCacheSize = s.deps.URLs.Size()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"callSid":      callSid,
		"customerName": req.Name,
		"optimizations": map[string]interface{}{
			"prewarmedUrls":    urlCacheSize,
			"greetingPrecache": req.Name != "",
		},
	})
}

// answerURL builds the TwiML webhook URL carrying the call's custom
// parameters as query values.
func (s *Server) answerURL(req outboundCallRequest) string {
	query := url.Values{}
	query.Set("name", req.Name)
	query.Set("number", req.Number)
	if req.AirtableRecordID != "" {
		query.Set("airtableRecordId", req.AirtableRecordID)
	}
	for k, v := range req.CustomParameters {
		query.Set(k, v)
	}
	return s.cfg.HTTPURL("/outbound-call-twiml") + "?" + query.Encode()
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CallSid string `json:"callSid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallSid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "callSid is required",
		})
		return
	}

	if err := s.deps.Calls.EndCall(req.CallSid); err != nil {
		log.Printf("[Server] End call %s failed: %v", req.CallSid, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false, "error": "failed to end call",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleOutboundTwiML answers the Telco webhook with a stream document
// pointing at the outbound media WebSocket, forwarding the query
// parameters as stream custom parameters.
func (s *Server) handleOutboundTwiML(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	s.writeTwiML(w, s.cfg.WebSocketURL("/outbound-media-stream"), params)
}

func (s *Server) handleInboundTwiML(w http.ResponseWriter, r *http.Request) {
	log.Printf("[Server] Inbound call webhook: From=%s", r.FormValue("From"))
	s.writeTwiML(w, s.cfg.WebSocketURL("/media-stream"), nil)
}

func (s *Server) writeTwiML(w http.ResponseWriter, streamURL string, params map[string]string) {
	doc, err := telco.StreamTwiML(streamURL, params)
	if err != nil {
		log.Printf("[Server] TwiML render failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(doc))
}

// handleCallStatus receives Telco status callbacks. AMD classifications
// are recorded first-write-wins; a machine answer on an already-bound
// session is forwarded so its watchdog arms.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callSid := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	answeredBy := r.FormValue("AnsweredBy")
	duration := r.FormValue("Duration")

	log.Printf("[Server] Call status: sid=%s status=%s answeredBy=%s duration=%s",
		callSid, status, answeredBy, duration)

	if callSid != "" && answeredBy != "" && s.deps.Registry != nil {
		classification := s.deps.Registry.Record(callSid, answeredBy)
		if classification.IsMachine() {
			if sess := s.sessionByCallSid(callSid); sess != nil {
				// De-registers the stored entry; the session was already
				// bound so it must hear about the machine directly.
				s.deps.Registry.Take(callSid)
				sess.NotifyMachineAnswer()
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// handleOptimizationStatus reports the state of the latency machinery.
func (s *Server) handleOptimizationStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{}

	if s.deps.URLs != nil {
		status["urlCache"] = map[string]int{
			"size":   s.deps.URLs.Size(),
			"target": s.deps.URLs.Target(),
		}
	}
	if s.deps.Registry != nil {
		status["amdRegistry"] = map[string]int{"pending": s.deps.Registry.Size()}
	}
	if s.deps.Predictor != nil {
		recorded, predicted, target := s.deps.Predictor.Stats()
		status["predictor"] = map[string]int{
			"recordedCalls":  recorded,
			"predictedCalls": predicted,
			"cacheTarget":    target,
		}
	}
	if s.deps.Greetings != nil {
		status["greetingCache"] = map[string]int{"size": s.deps.Greetings.Size()}
	}

	sessions := s.activeSessions()
	sessionStats := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		stat := map[string]interface{}{
			"callSid": sess.CallSid(),
			"state":   sess.State().String(),
			"mode":    sess.Mode(),
		}
		if latency, ok := sess.InitToFirstAudio(); ok {
			stat["initToFirstAudioMs"] = latency.Milliseconds()
		}
		sessionStats = append(sessionStats, stat)
	}
	status["activeSessions"] = len(sessions)
	status["sessions"] = sessionStats

	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Response encode failed: %v", err)
	}
}
