package queue

import (
	"encoding/json"
	"fmt"

	"github.com/discount-system/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskDiscountGenerate 异步批量生成折扣码任务
	TaskDiscountGenerate = constants.TaskDiscountGenerate
)

// DiscountGeneratePayload 批量生成任务载荷
type DiscountGeneratePayload struct {
	Count     int    `json:"count"`
	RequestID string `json:"request_id,omitempty"`
}

// NewDiscountGenerateTask 创建批量生成任务
func NewDiscountGenerateTask(payload DiscountGeneratePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDiscountGenerate, body), nil
}

// ParseDiscountGeneratePayload 解析批量生成任务载荷
func ParseDiscountGeneratePayload(task *asynq.Task) (DiscountGeneratePayload, error) {
	var payload DiscountGeneratePayload
	if task == nil {
		return payload, fmt.Errorf("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", task.Type(), err)
	}
	return payload, nil
}
