package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskSyncRun = "sync.run"

const TaskReconcile = "sync.reconcile"

type SyncRunPayload struct {
	Mode string `json:"mode"`
}

type ReconcilePayload struct {
	AutoFix bool `json:"autoFix"`
}

func NewSyncRunTask(payload SyncRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncRun, data), nil
}

func ParseSyncRunPayload(task *asynq.Task) (SyncRunPayload, error) {
	var payload SyncRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SyncRunPayload{}, err
	}
	return payload, nil
}

func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, data), nil
}

func ParseReconcilePayload(task *asynq.Task) (ReconcilePayload, error) {
	var payload ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReconcilePayload{}, err
	}
	return payload, nil
}
