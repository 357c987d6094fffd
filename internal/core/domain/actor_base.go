package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorRef keeps message definitions decoupled from the actor library's
// PID type.
type ActorRef actor.PID

// ActorRequest is implemented by every message that expects a reply. An
// explicit ReplyTo ref overrides the mailbox sender, which lets callers
// outside the actor system (HTTP handlers, MQTT commands) receive the
// response.
type ActorRequest interface {
	ReplyTo() *ActorRef
}

// ActorResponse carries the outcome of a request; a response with an
// error still flows back through the normal reply path.
type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

// ActorRequestMixIn is embedded by request messages.
type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

// ActorResponseMixIn is embedded by response messages.
type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}
