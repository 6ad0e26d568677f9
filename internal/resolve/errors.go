package resolve

import (
	"fmt"
	"strings"
)

// UnknownChannelError is returned when a service asks for a channel that is
// not in the channel map.
type UnknownChannelError struct {
	Service string
	Channel string
	Known   []string
}

func (e *UnknownChannelError) Error() string {
	msg := fmt.Sprintf("service '%s' requests unknown channel '%s'", e.Service, e.Channel)
	if len(e.Known) > 0 {
		msg += " — known channels: " + strings.Join(e.Known, ", ")
	}
	return msg
}

// NoConfigRefError is returned when no rule matched the request.
type NoConfigRefError struct {
	Request Request
}

func (e *NoConfigRefError) Error() string {
	return fmt.Sprintf("no config ref for %s — add a channel, region pin, default channel or env pin for env '%s'",
		e.Request, e.Request.Env)
}
