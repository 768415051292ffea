// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package requestresponse backs a bus.Channel of kind RequestResponse
// with the builtin HTTP client: an accepted ChannelMessage is POSTed
// to the client's load-balanced endpoints, and the response body comes
// back through the Channel's NotifyMessageReceived hook. This is the
// bridge between the in-process message router and an external HTTP
// broker discovered through the cluster.
package requestresponse

import (
	"bytes"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/relaycore/edgehost/builtin/client/http"
	"github.com/relaycore/edgehost/bus"
)

// Transport implements bus.Transport over a builtin http.Client. The
// request path is derived from the message topic ("/<topic>", slashes
// in the topic preserved).
type Transport struct {
	client *http.Client
	ch     *bus.Channel
}

// New builds a Transport forwarding through client. Bind must be
// called with the owning Channel before responses can be delivered.
func New(client *http.Client) *Transport {
	return &Transport{client: client}
}

// Bind attaches the Channel whose NotifyMessageReceived receives
// response bodies. Typically called right after bus.NewChannel:
//
//	tr := requestresponse.New(cli)
//	ch := bus.NewChannel("upstream", bus.RequestResponse, tr)
//	tr.Bind(ch)
func (t *Transport) Bind(ch *bus.Channel) { t.ch = ch }

// Transmit implements bus.Transport: POST the message content —
// through the client's urgent lane when the message's priority
// qualifies — and surface the response as a received message on the
// bound Channel.
func (t *Transport) Transmit(msg bus.ChannelMessage) error {
	headers := make(nethttp.Header)
	headers.Set("Content-Type", "application/octet-stream")
	headers.Set("X-Message-ID", msg.ID)
	headers.Set("X-Message-Sender", msg.Sender)
	for k, v := range msg.Metadata {
		headers.Set("X-Message-Meta-"+k, v)
	}

	resp, err := t.client.PostMessage(msg.Topic, msg.Priority, bytes.NewReader(msg.Content), headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("requestresponse: upstream returned %s for topic %q", resp.Status, msg.Topic)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("requestresponse: read response: %w", err)
	}
	if t.ch != nil {
		reply := bus.NewChannelMessage(msg.ID, msg.Receiver, msg.Sender, msg.Topic, body)
		reply.Metadata["status"] = resp.Status
		t.ch.NotifyMessageReceived(reply)
	}
	return nil
}
