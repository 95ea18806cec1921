package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func uint64QueryPtr(c *gin.Context, key string) *uint64 {
	if val := c.Query(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func uint64Param(c *gin.Context, key string) uint64 {
	val, err := strconv.ParseUint(c.Param(key), 10, 64)
	if err != nil {
		return 0
	}
	return val
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func dateQueryPtr(c *gin.Context, key string) *time.Time {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if t, err := time.Parse(dateLayout, val); err == nil {
			return &t
		}
	}
	return nil
}

func parseDate(value string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func paginationMeta(limit, offset, count int) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return map[string]any{
		"limit":  limit,
		"offset": offset,
		"count":  count,
	}
}
