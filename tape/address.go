package tape

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devexperts/QD-sub012/errs"
)

// Property is one key=value parameter of an address.
type Property struct {
	Key   string
	Value string
}

// ParseAddress splits an address of the form path[key=value,...][key=value]
// into its path and bracketed properties. Properties keep their order; a key
// without '=' gets an empty value.
func ParseAddress(address string) (string, []Property, error) {
	path := strings.TrimSpace(address)

	var groups [][]Property
	for strings.HasSuffix(path, "]") {
		open := strings.LastIndexByte(path, '[')
		if open < 0 {
			return "", nil, fmt.Errorf("%w: unbalanced ']' in address %q", errs.ErrInvalidArgument, RedactAddress(address))
		}

		props, err := parseProperties(path[open+1 : len(path)-1])
		if err != nil {
			return "", nil, fmt.Errorf("%w in address %q", err, RedactAddress(address))
		}
		groups = append(groups, props)
		path = strings.TrimSpace(path[:open])
	}

	if path == "" {
		return "", nil, fmt.Errorf("%w: address %q has no path", errs.ErrInvalidArgument, RedactAddress(address))
	}
	if strings.ContainsAny(path, "[]") {
		return "", nil, fmt.Errorf("%w: unbalanced brackets in address %q", errs.ErrInvalidArgument, RedactAddress(address))
	}

	var props []Property
	for i := len(groups) - 1; i >= 0; i-- {
		props = append(props, groups[i]...)
	}

	return path, props, nil
}

func parseProperties(s string) ([]Property, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	props := make([]Property, 0, len(parts))
	for _, part := range parts {
		key, value, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: empty property name in %q", errs.ErrInvalidArgument, s)
		}
		props = append(props, Property{Key: key, Value: strings.TrimSpace(value)})
	}

	return props, nil
}

var (
	urlCredentials   = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.\-]*://)[^/@\s]+@`)
	plainCredentials = regexp.MustCompile(`(^|[\s,\[(])[^\s/:@\[\],]+:[^\s/@\[\],]+@`)
	secretProperties = regexp.MustCompile(`(?i)\b(password|user)=[^,\]]*`)
)

// RedactAddress hides credentials in an address so it can be logged.
func RedactAddress(address string) string {
	s := urlCredentials.ReplaceAllString(address, "${1}****@")
	s = plainCredentials.ReplaceAllString(s, "${1}****@")

	return secretProperties.ReplaceAllString(s, "${1}=****")
}
