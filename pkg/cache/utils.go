package cache

import (
	"fmt"
	"strings"
)

// Key joins prefix and params with ':' into one cache key.
func Key(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}
