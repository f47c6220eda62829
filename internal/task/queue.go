package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message 是队列中流转的查询任务信封。
// 存储中的任务记录始终是权威状态，Query 只作为消费端的上下文提示。
type Message struct {
	ID      string `json:"id"`
	Query   string `json:"query,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// Encode 将信封序列化为队列载荷。
func (m Message) Encode() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("序列化任务信封失败: %w", err)
	}
	return payload, nil
}

// DecodeMessage 解析队列载荷。为兼容手工投递，纯任务 ID 也被接受。
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		if id := string(payload); id != "" && id[0] != '{' {
			return Message{ID: id}, nil
		}
		return Message{}, fmt.Errorf("解析任务信封失败: %w", err)
	}
	if msg.ID == "" {
		return Message{}, fmt.Errorf("任务信封缺少 ID")
	}
	return msg, nil
}

// Handler 处理来自消息队列的任务信封。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
