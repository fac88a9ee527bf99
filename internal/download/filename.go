package download

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// FilenameFromURL derives a destination filename from the final segment of
// the URL path, with any query string or fragment stripped.
func FilenameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("url %q has no usable path segment", raw)
	}

	return name, nil
}
