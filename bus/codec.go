package bus

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// A Message is one publication on the bus. Messages are not modified once
// sent.
type Message struct {
	// ID identifies the message within this process. It does not travel.
	ID      string
	Topic   Topic
	Payload Payload
}

// DecodeError reports a frame that is not a message.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	frame := e.Frame
	if len(frame) > 64 {
		frame = frame[:64] + "..."
	}

	return fmt.Sprintf("cannot decode %q: %v", frame, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode renders a message as one frame, the topic and the YAML payload
// separated by a space.
func Encode(m Message) ([]byte, error) {
	if !m.Topic.valid() {
		return nil, fmt.Errorf("invalid topic %q", m.Topic)
	}

	payload := m.Payload
	if payload == nil {
		payload = Payload{}
	}

	body, err := yaml.Marshal(map[string]any(payload))
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Topic, err)
	}

	var buf bytes.Buffer
	buf.WriteString(string(m.Topic))
	buf.WriteByte(' ')
	buf.Write(body)

	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Message, error) {
	topic, body, found := strings.Cut(string(frame), " ")
	if !found {
		return Message{}, &DecodeError{
			Frame: string(frame),
			Err:   fmt.Errorf("no topic separator"),
		}
	}

	t := Topic(topic)
	if !t.valid() {
		return Message{}, &DecodeError{
			Frame: string(frame),
			Err:   fmt.Errorf("invalid topic %q", topic),
		}
	}

	var raw any
	if err := yaml.Unmarshal([]byte(body), &raw); err != nil {
		return Message{}, &DecodeError{Frame: string(frame), Err: err}
	}

	payload, err := toPayload(raw)
	if err != nil {
		return Message{}, &DecodeError{Frame: string(frame), Err: err}
	}

	return Message{Topic: t, Payload: payload}, nil
}

func toPayload(raw any) (Payload, error) {
	switch m := raw.(type) {
	case nil:
		return Payload{}, nil
	case map[string]any:
		return Payload(m), nil
	case map[any]any:
		p := make(Payload, len(m))
		for k, v := range m {
			p[fmt.Sprint(k)] = v
		}

		return p, nil
	}

	return nil, fmt.Errorf("payload is %T, not a mapping", raw)
}
