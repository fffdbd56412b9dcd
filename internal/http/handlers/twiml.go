package handlers

import (
	"encoding/xml"
	"net/http"
)

// twimlResponse is the subset of TwiML the voice webhooks emit.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     *twimlSay    `xml:"Say,omitempty"`
	Play    string       `xml:"Play,omitempty"`
	Record  *twimlRecord `xml:"Record,omitempty"`
	Hangup  *struct{}    `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type twimlRecord struct {
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	MaxLength int    `xml:"maxLength,attr,omitempty"`
	Timeout   int    `xml:"timeout,attr,omitempty"`
	PlayBeep  bool   `xml:"playBeep,attr"`
	Trim      string `xml:"trim,attr,omitempty"`
}

func writeTwiML(w http.ResponseWriter, resp twimlResponse) {
	body, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to render twiml", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
