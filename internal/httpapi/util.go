package httpapi

import (
	"strings"

	applog "github.com/jiqinga/strmforge/internal/log"
)

var component = applog.WithComponent("httpapi")

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func logWarn(msg string, err error) {
	component.Warn().Err(err).Msg(msg)
}
