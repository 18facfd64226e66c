package cmdutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env reads overrides from variables named Prefix+key, e.g. SECHANNEL_HUB_LISTEN.
// A blank or unset variable leaves the destination untouched.
type Env struct {
	Prefix string
}

func (e Env) lookup(key string) (string, string, bool) {
	name := e.Prefix + key
	v := strings.TrimSpace(os.Getenv(name))
	return name, v, v != ""
}

func (e Env) String(key string, dst *string) {
	if _, v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e Env) Bool(key string, dst *bool) error {
	name, raw, ok := e.lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return &UsageError{Msg: fmt.Sprintf("invalid %s: %v", name, err)}
	}
	*dst = v
	return nil
}

func (e Env) Int(key string, dst *int) error {
	name, raw, ok := e.lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return &UsageError{Msg: fmt.Sprintf("invalid %s: %v", name, err)}
	}
	*dst = v
	return nil
}

// Duration parses a Go duration string into any duration-backed type.
func Duration[T ~int64](e Env, key string, dst *T) error {
	name, raw, ok := e.lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return &UsageError{Msg: fmt.Sprintf("invalid %s: %v", name, err)}
	}
	*dst = T(d)
	return nil
}

// CSV splits a comma-separated value into trimmed, non-empty parts.
func (e Env) CSV(key string, dst *[]string) {
	_, raw, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	*dst = out
}
