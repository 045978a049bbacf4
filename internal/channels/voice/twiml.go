package voice

import (
	"bytes"
	"encoding/xml"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// Response is a TwiML document. Verbs render in the order they are added.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

// Say speaks text with a Twilio voice.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather collects keypad input, speaking the nested prompts while it waits.
type Gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Input       string   `xml:"input,attr,omitempty"`
	NumDigits   int      `xml:"numDigits,attr,omitempty"`
	Action      string   `xml:"action,attr,omitempty"`
	Method      string   `xml:"method,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	Says        []Say
}

// Record captures the caller's voice and posts RecordingUrl to Action.
type Record struct {
	XMLName     xml.Name `xml:"Record"`
	Action      string   `xml:"action,attr,omitempty"`
	Method      string   `xml:"method,attr,omitempty"`
	MaxLength   int      `xml:"maxLength,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	PlayBeep    bool     `xml:"playBeep,attr"`
}

type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (r *Response) Say(voice, language, text string) *Response {
	r.Verbs = append(r.Verbs, Say{Voice: voice, Language: language, Text: text})
	return r
}

func (r *Response) Gather(g Gather) *Response {
	if g.Method == "" {
		g.Method = "POST"
	}
	r.Verbs = append(r.Verbs, g)
	return r
}

func (r *Response) Record(action string, maxLength int, finishOnKey string) *Response {
	r.Verbs = append(r.Verbs, Record{Action: action, Method: "POST", MaxLength: maxLength, FinishOnKey: finishOnKey, PlayBeep: true})
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.Verbs = append(r.Verbs, Redirect{Method: "POST", URL: url})
	return r
}

func (r *Response) Hangup() *Response {
	r.Verbs = append(r.Verbs, Hangup{})
	return r
}

// Render encodes the document with the XML declaration.
func (r *Response) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnavailableResponse apologises in English then Kannada and ends the call.
// The relay plays it when the booking API cannot answer a callback.
func UnavailableResponse(englishVoice string) *Response {
	if englishVoice == "" {
		englishVoice = defaultVoice
	}
	resp := &Response{}
	resp.Say(englishVoice, "en-IN", conversation.LineUnavailableText(session.LanguageEnglish))
	resp.Say(kannadaVoice, "kn-IN", conversation.LineUnavailableText(session.LanguageKannada))
	return resp.Hangup()
}
