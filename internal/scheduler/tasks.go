package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskPlaceLeadCall = "calls.place"

type PlaceLeadCallPayload struct {
	LeadID string `json:"leadId"`
}

func NewPlaceLeadCallTask(payload PlaceLeadCallPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPlaceLeadCall, data), nil
}

func ParsePlaceLeadCallPayload(task *asynq.Task) (PlaceLeadCallPayload, error) {
	var payload PlaceLeadCallPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PlaceLeadCallPayload{}, err
	}
	return payload, nil
}

// placeLeadCallTaskID deduplicates the automatic first call per lead.
func placeLeadCallTaskID(leadID string) string {
	return "calls.place:" + leadID
}
