// TwiML generation for media stream connection.

package telco

import (
	"bytes"
	"encoding/xml"
	"text/template"
)

// streamTwiMLTemplate connects the answered call to a media WebSocket and
// passes custom parameters through to the stream start event. Rendered
// with text/template: html/template rewrites wss: URLs to #ZgotmplZ and
// escapes the XML declaration, so attribute values are escaped explicitly.
const streamTwiMLTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="{{xml .StreamURL}}">
            {{- range $key, $value := .Parameters}}
            <Parameter name="{{xml $key}}" value="{{xml $value}}" />
            {{- end}}
        </Stream>
    </Connect>
</Response>`

var streamTmpl = template.Must(template.New("stream-twiml").
	Funcs(template.FuncMap{"xml": xmlEscape}).
	Parse(streamTwiMLTemplate))

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// StreamTwiML renders a TwiML document connecting the call to streamURL
// with the given custom parameters.
func StreamTwiML(streamURL string, parameters map[string]string) (string, error) {
	var buf bytes.Buffer
	err := streamTmpl.Execute(&buf, struct {
		StreamURL  string
		Parameters map[string]string
	}{
		StreamURL:  streamURL,
		Parameters: parameters,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
