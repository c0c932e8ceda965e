// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"context"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaycherian/gcp-go-drive-annotation/internal/core/cor"
)

const listenerScope = "github.com/jaycherian/gcp-go-drive-annotation/listener"

var listenerLogger = otelslog.NewLogger(listenerScope)

// PubSubListener pulls messages from one subscription and runs a command for
// each, passing the raw message body as the chain input.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
}

// NewPubSubListener binds a listener to subscriptionID. The command may be nil
// and attached later with SetCommand.
func NewPubSubListener(pubsubClient *pubsub.Client, subscriptionID string, command cor.Command) (*PubSubListener, error) {
	return &PubSubListener{
		client:       pubsubClient,
		subscription: pubsubClient.Subscription(subscriptionID),
		command:      command,
	}, nil
}

// SetCommand attaches the command once; later calls are ignored.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// Handle runs the attached command for one message body and reports whether
// the chain finished without errors.
func (m *PubSubListener) Handle(ctx context.Context, data []byte) bool {
	tracer := otel.Tracer("message-listener")
	spanCtx, span := tracer.Start(ctx, "receive-message")
	defer span.End()
	span.SetAttributes(attribute.Int("msg.bytes", len(data)))

	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(spanCtx)
	chainCtx.Add(cor.CtxIn, string(data))
	defer chainCtx.Close()

	m.command.Execute(chainCtx)

	if !chainCtx.HasErrors() {
		span.SetStatus(codes.Ok, "success")
		return true
	}
	span.SetStatus(codes.Error, "failed")
	for name, e := range chainCtx.GetErrors() {
		listenerLogger.ErrorContext(spanCtx, "error executing chain", "command", name, "error", e)
	}
	return false
}

// Listen starts receiving in a background goroutine until ctx is cancelled.
// Successful messages are acked; failed ones are nacked for redelivery under
// the subscription's retry policy.
func (m *PubSubListener) Listen(ctx context.Context) {
	listenerLogger.InfoContext(ctx, "listening", "subscription", m.subscription.ID())

	go func() {
		err := m.subscription.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			if m.Handle(msgCtx, msg.Data) {
				msg.Ack()
				return
			}
			msg.Nack()
		})
		if err != nil {
			listenerLogger.ErrorContext(ctx, "error receiving data", "subscription", m.subscription.ID(), "error", err)
		}
	}()
}
