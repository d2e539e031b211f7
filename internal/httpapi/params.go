package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"activity-monitor/internal/query"

	"github.com/gin-gonic/gin"
)

type listParams struct {
	start, end    time.Time
	page, perPage int
}

// parse reads start, end, page and per_page. It writes a 400 and returns false on bad input.
func (p *listParams) parse(c *gin.Context) bool {
	var err error
	if p.start, err = parseTime(c.Query("start")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
		return false
	}
	if p.end, err = parseTime(c.Query("end")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
		return false
	}
	if !p.start.IsZero() && !p.end.IsZero() && p.end.Before(p.start) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
		return false
	}
	if p.page, err = parseInt(c.Query("page")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return false
	}
	if p.perPage, err = parseInt(c.Query("per_page")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "per_page must be a positive integer"})
		return false
	}
	return true
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseInt(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func paged[T any](p query.Page[T]) gin.H {
	return gin.H{
		"items": p.Items,
		"meta": gin.H{
			"total":    p.Total,
			"page":     p.Page,
			"per_page": p.PageSize,
			"pages":    p.Pages,
		},
	}
}
