package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/corehours/internal/usage/domain"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateOnlyLayout, trimmed)
}

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

func parseFilter(c *gin.Context) (usagedomain.Filter, error) {
	start, err := parseOptionalDate(c.Query("start"))
	if err != nil {
		return usagedomain.Filter{}, newValidationError("start", "invalid_date", "start must be YYYY-MM-DD")
	}
	end, err := parseOptionalDate(c.Query("end"))
	if err != nil {
		return usagedomain.Filter{}, newValidationError("end", "invalid_date", "end must be YYYY-MM-DD")
	}
	return usagedomain.Filter{
		Start:        start,
		End:          end,
		User:         strings.TrimSpace(c.Query("user")),
		Group:        strings.TrimSpace(c.Query("group")),
		Queue:        strings.TrimSpace(c.Query("queue")),
		Wallet:       strings.TrimSpace(c.Query("wallet")),
		ResourceType: strings.TrimSpace(c.Query("resource_type")),
	}, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	v, err := parseOptionalInt(c.Query(name))
	if err != nil {
		return 0, newValidationError(name, "invalid_integer", name+" must be an integer")
	}
	return v, nil
}
