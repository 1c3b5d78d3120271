package services

import (
	"context"
	"sort"
	"strings"
	"time"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// normaliseAddresses lower-cases, trims and de-duplicates email addresses, dropping blanks.
func normaliseAddresses(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// diffStrings returns the values of want missing from have and the values of have missing from
// want, both sorted.
func diffStrings(have, want []string) (missing, extra []string) {
	haveSet := make(map[string]struct{}, len(have))
	for _, v := range have {
		haveSet[v] = struct{}{}
	}
	wantSet := make(map[string]struct{}, len(want))
	for _, v := range want {
		wantSet[v] = struct{}{}
		if _, ok := haveSet[v]; !ok {
			missing = append(missing, v)
		}
	}
	for _, v := range have {
		if _, ok := wantSet[v]; !ok {
			extra = append(extra, v)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

func localPart(email string) (string, string) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return strings.ToLower(email), ""
	}
	return strings.ToLower(email[:at]), strings.ToLower(email[at+1:])
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
