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

import "strings"

// LeadState is the engagement stage of a lead as judged from the
// conversation history.
type LeadState string

const (
	LeadCold                LeadState = "cold"
	LeadWarmingUp           LeadState = "warming_up"
	LeadInterested          LeadState = "interested"
	LeadReadyForAppointment LeadState = "ready_for_appointment"
	LeadNotInterested       LeadState = "not_interested"
)

// LeadStateInfo describes one entry of the lead-state taxonomy.
type LeadStateInfo struct {
	State       LeadState
	Description string
}

// LeadStates is the fixed taxonomy, in escalation order.
var LeadStates = []LeadStateInfo{
	{LeadCold, "The lead shows no interest or engagement."},
	{LeadWarmingUp, "The lead is showing some interest but is not yet fully engaged."},
	{LeadInterested, "The lead is actively engaged and showing strong interest."},
	{LeadReadyForAppointment, "The lead is ready to schedule an appointment or take the next step."},
	{LeadNotInterested, "The lead has explicitly expressed lack of interest."},
}

// Label returns the upper-case name, e.g. "WARMING_UP". It is the form
// used with the model and the one written to the lead-state field.
func (s LeadState) Label() string {
	return strings.ToUpper(string(s))
}

// ParseLeadState accepts the label form persisted in the lead-state field
// ("WARMING_UP") and, case-insensitively, the lower-case value
// ("warming_up").
func ParseLeadState(s string) (LeadState, bool) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, info := range LeadStates {
		if string(info.State) == want {
			return info.State, true
		}
	}
	return "", false
}
