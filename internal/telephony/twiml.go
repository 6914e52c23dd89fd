package telephony

import (
	"encoding/xml"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStream answers the call by streaming its audio to streamURL. params
// are echoed back in the stream's start message.
func ConnectStream(streamURL string, params map[string]string, order ...string) ([]byte, error) {
	stream := twimlStream{URL: streamURL}
	for _, name := range order {
		if value, ok := params[name]; ok {
			stream.Parameters = append(stream.Parameters, twimlParameter{Name: name, Value: value})
		}
	}
	return render(twimlResponse{Connect: &twimlConnect{Stream: stream}})
}

// SayAndHangup speaks message and ends the call.
func SayAndHangup(message string) ([]byte, error) {
	return render(twimlResponse{Say: &twimlSay{Text: message}, Hangup: &struct{}{}})
}

func render(resp twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
