// Package dto 提供 HTTP 层数据传输对象
package dto

// ChatMessage 请求中的一条对话消息
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
}

// ChatRequest 流式对话请求
// accountId 缺省时使用默认账户，调用方身份按原样信任
type ChatRequest struct {
	AccountID string        `json:"accountId"`
	Provider  string        `json:"provider" binding:"required"`
	ModelID   string        `json:"modelId" binding:"required"`
	Messages  []ChatMessage `json:"messages" binding:"required,min=1,dive"`
}

// DefaultAccountID 未携带 accountId 时使用的账户
const DefaultAccountID = "default-user"

// ResolveAccountID 返回请求的账户 ID，缺省回落到默认账户
func (r *ChatRequest) ResolveAccountID() string {
	if r.AccountID == "" {
		return DefaultAccountID
	}
	return r.AccountID
}

// BroadcastRequest 频道广播请求
type BroadcastRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
	Topic     string `json:"topic" binding:"required"`
}
