package shared

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// StreamLine NDJSON 单行
type StreamLine struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// 行类型
const (
	StreamLineProgress = "progress"
	StreamLineSummary  = "summary"
	StreamLineError    = "error"
)

// StreamNDJSON 以 NDJSON 逐行输出 run 产生的消息；客户端断开时 run 的 ctx 被取消
func StreamNDJSON(c *gin.Context, run func(ctx context.Context, emit func(StreamLine))) {
	ctx := c.Request.Context()
	lines := make(chan StreamLine, 16)
	go func() {
		defer close(lines)
		run(ctx, func(line StreamLine) {
			select {
			case lines <- line:
			case <-ctx.Done():
			}
		})
	}()

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)
	encoder := func(w io.Writer, line StreamLine) bool {
		if err := json.NewEncoder(w).Encode(line); err != nil {
			RequestLog(c).Warnw("stream_write_failed", "error", err)
			return false
		}
		return true
	}
	c.Stream(func(w io.Writer) bool {
		line, ok := <-lines
		if !ok {
			return false
		}
		return encoder(w, line)
	})
	// 客户端提前断开时继续排空，避免生产方阻塞
	for range lines {
	}
}
