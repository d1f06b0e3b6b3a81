package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxRequestBytes = 64 << 10

// limitBody caps the request body read by the JSON binder.
func limitBody(c *gin.Context, max int64) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
}

func formatLimit(bytes int64) string {
	const kb = 1024
	if bytes <= 0 {
		return "0KB"
	}
	value := bytes / kb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "KB"
}
