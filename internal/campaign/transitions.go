// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package campaign owns the campaign lifecycle state machine.
package campaign

import (
	"errors"
	"slices"

	"github.com/ManuGH/lure/internal/model"
)

// Action is a lifecycle command.
type Action string

const (
	ActionStart    Action = "start"
	ActionSchedule Action = "schedule"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionCancel   Action = "cancel"
	// ActionComplete is issued by the lifecycle job only.
	ActionComplete Action = "complete"
)

// UserActions are the actions accepted from API callers.
var UserActions = []Action{ActionStart, ActionSchedule, ActionPause, ActionResume, ActionCancel}

// ErrInvalidTransition is matched by every refused transition.
var ErrInvalidTransition = errors.New("invalid campaign transition")

// TransitionError carries the caller-facing refusal message.
type TransitionError struct {
	Action  Action
	From    string
	Message string
}

func (e *TransitionError) Error() string { return e.Message }
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func refuse(a Action, from, msg string) error {
	return &TransitionError{Action: a, From: from, Message: msg}
}

// Transition is one edge set of the lifecycle.
type Transition struct {
	Action  Action
	From    []string
	To      string
	Refusal string
	Success string
}

var transitionsTable = []Transition{
	{
		Action:  ActionStart,
		From:    []string{model.CampaignDraft, model.CampaignScheduled},
		To:      model.CampaignRunning,
		Refusal: "Only draft or scheduled campaigns can be started",
		Success: "Campaign started successfully",
	},
	{
		Action:  ActionSchedule,
		From:    []string{model.CampaignDraft},
		To:      model.CampaignScheduled,
		Refusal: "Only draft campaigns can be scheduled",
		Success: "Campaign scheduled successfully",
	},
	{
		Action:  ActionPause,
		From:    []string{model.CampaignRunning},
		To:      model.CampaignPaused,
		Refusal: "Only running campaigns can be paused",
		Success: "Campaign paused successfully",
	},
	{
		Action:  ActionResume,
		From:    []string{model.CampaignPaused},
		To:      model.CampaignRunning,
		Refusal: "Only paused campaigns can be resumed",
		Success: "Campaign resumed successfully",
	},
	{
		Action:  ActionCancel,
		From:    []string{model.CampaignDraft, model.CampaignScheduled, model.CampaignRunning, model.CampaignPaused},
		To:      model.CampaignCancelled,
		Refusal: "Campaign cannot be cancelled",
		Success: "Campaign cancelled successfully",
	},
	{
		Action:  ActionComplete,
		From:    []string{model.CampaignRunning},
		To:      model.CampaignCompleted,
		Refusal: "Only running campaigns can be completed",
		Success: "Campaign completed successfully",
	},
}

// Lookup returns the transition for an action.
func Lookup(a Action) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.Action == a {
			return tr, true
		}
	}
	return Transition{}, false
}

// TransitionFor returns the transition for action a from status from, or a
// TransitionError when the action is unknown or not allowed from that status.
func TransitionFor(from string, a Action) (Transition, error) {
	tr, ok := Lookup(a)
	if !ok {
		return Transition{}, refuse(a, from, "Invalid action")
	}
	if !slices.Contains(tr.From, from) {
		return Transition{}, refuse(a, from, tr.Refusal)
	}
	return tr, nil
}

// ActionForStatus maps a requested status change to the action that performs
// it. An empty action with nil error means nothing changes.
func ActionForStatus(from, to string) (Action, error) {
	if from == to {
		return "", nil
	}
	switch to {
	case model.CampaignRunning:
		if from == model.CampaignPaused {
			return ActionResume, nil
		}
		return ActionStart, nil
	case model.CampaignScheduled:
		return ActionSchedule, nil
	case model.CampaignPaused:
		return ActionPause, nil
	case model.CampaignCancelled:
		return ActionCancel, nil
	}
	return "", refuse("", from, "Invalid action")
}
