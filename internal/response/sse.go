package response

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
)

// StartStream prepares c for a server-sent event stream.
func StartStream(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Reverse proxies must not buffer the stream.
	h.Set("X-Accel-Buffering", "no")
	c.Status(200)
	c.Writer.Flush()
}

// WriteEvent encodes v as JSON and sends it as one unnamed event.
func WriteEvent(c *gin.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return WriteRawEvent(c, data)
}

// WriteRawEvent sends already encoded JSON as one unnamed event.
func WriteRawEvent(c *gin.Context, data []byte) error {
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
