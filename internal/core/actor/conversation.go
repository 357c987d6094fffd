package actor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/port"
	"github.com/acasal/hearth2mqtt/internal/core/service"
	"github.com/acasal/hearth2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type converseResult struct {
	replyTo *actor.PID
	resp    domain.ConverseResponse
}

func (state *EntryActor) startConversation(ctx actor.Context, msg domain.ConverseRequest) {
	replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
	if state.converser == nil {
		if msg.Deltas != nil {
			close(msg.Deltas)
		}
		if replyTo != nil {
			ctx.Send(replyTo, domain.ConverseResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: errors.New("entry is not a conversation agent"),
				},
				ConversationId: msg.ConversationId,
			})
		}
		return
	}

	converser := state.converser
	logger := state.logger
	actorutil.NewBackgroundTask(ctx, func() (*converseResult, error) {
		resp := runConversation(converser, logger, msg)
		return &converseResult{replyTo: replyTo, resp: resp}, nil
	}).WithTimeout(5 * time.Minute).Recover(func(err error) converseResult {
		return converseResult{replyTo: replyTo, resp: domain.ConverseResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			ConversationId: msg.ConversationId,
		}}
	}).PipeTo(ctx.Self())
}

func (state *EntryActor) finishConversation(ctx actor.Context, msg converseResult) {
	if msg.resp.HasResponseError() {
		state.logger.Error("entry@converse failed", zap.Error(msg.resp.GetResponseError()))
	} else {
		state.publishUsage(msg.resp.Usage)
	}
	if msg.replyTo != nil {
		ctx.Send(msg.replyTo, msg.resp)
	}
}

// publishUsage turns per-conversation token counts into sensor updates so
// token spend shows up next to the rest of the entry's entities.
func (state *EntryActor) publishUsage(usage domain.TokenUsage) {
	state.eventStream.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: fmt.Sprintf("%s_input_tokens", state.entry.Id)},
		Value:                  float64(usage.InputTokens),
	})
	state.eventStream.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: fmt.Sprintf("%s_output_tokens", state.entry.Id)},
		Value:                  float64(usage.OutputTokens),
	})
}

// runConversation drives a full vendor stream through the transformer,
// forwarding every delta to the caller's channel and aggregating the final
// response. Runs outside the actor goroutine.
func runConversation(converser port.Converser, logger *zap.Logger, msg domain.ConverseRequest) domain.ConverseResponse {
	c, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()
	if msg.Deltas != nil {
		defer close(msg.Deltas)
	}

	eventCh, errCh := converser.Stream(c, msg.ConversationId, msg.Text)
	transformer := service.NewStreamTransformer(logger)

	var text strings.Builder
	var toolCalls []domain.ToolCallDelta
	for ev := range eventCh {
		deltas, err := transformer.Next(ev)
		if err != nil {
			return domain.ConverseResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
				ConversationId: msg.ConversationId,
				Usage:          transformer.Usage(),
			}
		}
		for _, delta := range deltas {
			if msg.Deltas != nil {
				msg.Deltas <- delta
			}
			switch d := delta.(type) {
			case domain.TextDelta:
				text.WriteString(d.Text)
			case domain.ToolCallDelta:
				toolCalls = append(toolCalls, d)
			}
		}
	}
	if err := <-errCh; err != nil {
		return domain.ConverseResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			ConversationId: msg.ConversationId,
			Usage:          transformer.Usage(),
		}
	}

	return domain.ConverseResponse{
		ConversationId: msg.ConversationId,
		Text:           text.String(),
		ToolCalls:      toolCalls,
		Usage:          transformer.Usage(),
	}
}
