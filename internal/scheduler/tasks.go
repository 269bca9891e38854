package scheduler

import (
	"encoding/json"

	"estimate_backend/internal/outbox"

	"github.com/hibiken/asynq"
)

const TaskDeliveryRetry = "estimates.delivery.retry"

type DeliveryRetryPayload struct {
	LeadID   string `json:"leadId"`
	Identity string `json:"identity"`
}

func NewDeliveryRetryTask(entry outbox.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(DeliveryRetryPayload{LeadID: entry.LeadID, Identity: entry.Identity})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliveryRetry, data), nil
}

func ParseDeliveryRetryPayload(task *asynq.Task) (DeliveryRetryPayload, error) {
	var payload DeliveryRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DeliveryRetryPayload{}, err
	}
	return payload, nil
}

func taskID(entry outbox.Entry) string {
	return "delivery:" + entry.Key()
}
