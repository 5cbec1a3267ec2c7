package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"telegen-ai-gateway/pkg/logger"
)

const (
	sseDataPrefix  = "data: "
	sseDoneMessage = "[DONE]"
)

// streamChunk OpenAI 兼容的流式帧结构
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// decodeSSEStream 解析 OpenAI 兼容的 SSE 流
//
// 逐行扫描：只处理 "data: " 前缀的行，[DONE] 哨兵视为正常结束；
// 无法解析的帧记录日志后跳过，不中断整条流。
// 返回 nil 表示流正常结束（[DONE] 或上游关闭连接）。
func decodeSSEStream(ctx context.Context, providerName string, body io.Reader, onChunk ChunkHandler) error {
	log := logger.FromContext(ctx)
	scanner := bufio.NewScanner(body)
	// 单帧可能携带较长的 JSON，放宽扫描缓冲
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		data := line[len(sseDataPrefix):]
		if data == sseDoneMessage {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn("failed to parse stream chunk, skipping",
				"provider", providerName,
				"error", err,
			)
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			onChunk(content)
		}
	}

	if err := scanner.Err(); err != nil {
		// 上下文取消优先于底层读错误上报
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
