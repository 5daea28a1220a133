// Copyright (c) 2026 John Earle
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

package models

import "errors"

// ErrUnsupportedChannel is returned when a message type has no outbound
// channel the service can reply on.
var ErrUnsupportedChannel = errors.New("unsupported channel")

// Channel is the outbound send type accepted by the CRM messages endpoint.
type Channel string

const (
	ChannelSMS       Channel = "SMS"
	ChannelEmail     Channel = "Email"
	ChannelFacebook  Channel = "FB"
	ChannelGMB       Channel = "GMB"
	ChannelInstagram Channel = "IG"
	ChannelWhatsApp  Channel = "WhatsApp"
	ChannelLiveChat  Channel = "Live_Chat"

	// ChannelCustom marks types the CRM only records (calls, activities).
	// Nothing can be sent on it.
	ChannelCustom Channel = "Custom"
)

var channelByType = map[MessageType]Channel{
	TypeSMS:       ChannelSMS,
	TypeEmail:     ChannelEmail,
	TypeFacebook:  ChannelFacebook,
	TypeGMB:       ChannelGMB,
	TypeInstagram: ChannelInstagram,
	TypeWhatsApp:  ChannelWhatsApp,
	TypeLiveChat:  ChannelLiveChat,
	TypeCall:      ChannelCustom,
}

// notReplyable are types the assistant never answers even though the CRM
// could deliver on them.
var notReplyable = map[MessageType]bool{
	TypeCall:  true,
	TypeEmail: true,
}

// ChannelFor maps a message type to the channel a reply goes out on.
// Call, e-mail, activity and unknown types return ErrUnsupportedChannel.
func ChannelFor(t MessageType) (Channel, error) {
	if notReplyable[t] {
		return "", ErrUnsupportedChannel
	}
	ch, ok := channelByType[t]
	if !ok || !ch.Sendable() {
		return "", ErrUnsupportedChannel
	}
	return ch, nil
}

// Sendable reports whether the CRM accepts outbound messages on c.
func (c Channel) Sendable() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelFacebook, ChannelGMB,
		ChannelInstagram, ChannelWhatsApp, ChannelLiveChat:
		return true
	}
	return false
}
