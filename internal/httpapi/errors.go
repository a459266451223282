package httpapi

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rollbook/internal/records"
)

// quotaRetryAfter matches the backend's quota window.
const quotaRetryAfter = time.Minute

var kindStatus = map[records.Kind]int{
	records.KindConnection: http.StatusServiceUnavailable,
	records.KindQuota:      http.StatusTooManyRequests,
	records.KindValidation: http.StatusUnprocessableEntity,
	records.KindDuplicate:  http.StatusConflict,
	records.KindNotFound:   http.StatusNotFound,
}

// writeError renders a store error as {"error": reason, "kind": kind}.
func writeError(c *gin.Context, err error) {
	var e *records.Error
	if !errors.As(err, &e) {
		log.Printf("httpapi: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
		return
	}
	status, ok := kindStatus[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if e.Kind == records.KindQuota {
		setRetryAfter(c, quotaRetryAfter)
	}
	body := gin.H{"error": e.Reason(), "kind": e.Kind}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "bad_request"})
}

// writeRateLimited rejects a caller that ran out of API budget.
func writeRateLimited(c *gin.Context, wait time.Duration) {
	setRetryAfter(c, wait)
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, try again shortly", "kind": "rate_limited"})
}

// setRetryAfter writes whole seconds, rounded up and never below one.
func setRetryAfter(c *gin.Context, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
}
