package bus

import (
	"fmt"
	"strings"
)

// A Topic addresses messages on the bus.
type Topic string

// Control topics handled by the bus itself.
const (
	TopicInterruptTrigger Topic = "Interrupt.Trigger"
	TopicInterruptBase    Topic = "Interrupt.Base"
)

const peripheralPrefix = "Peripheral."

// PeripheralTopic returns the topic of a model method.
func PeripheralTopic(model, method string) Topic {
	return Topic(fmt.Sprintf("%s%s.%s", peripheralPrefix, model, method))
}

// IsPeripheral reports whether the topic addresses a peripheral model.
func (t Topic) IsPeripheral() bool {
	return strings.HasPrefix(string(t), peripheralPrefix)
}

// Split returns the model and the method of a peripheral topic.
func (t Topic) Split() (model, method string, ok bool) {
	if !t.IsPeripheral() {
		return "", "", false
	}

	rest := strings.TrimPrefix(string(t), peripheralPrefix)

	i := strings.LastIndex(rest, ".")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}

	return rest[:i], rest[i+1:], true
}

func (t Topic) valid() bool {
	return t != "" && !strings.ContainsAny(string(t), " \t\r\n")
}
