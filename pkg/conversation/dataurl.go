package conversation

import (
	"encoding/base64"
	"regexp"
)

var dataURLRegexp = regexp.MustCompile(`^data:(.+?);base64,(.+)$`)

func EncodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data URL into its media type and payload.
// The payload is returned still base64 encoded.
func ParseDataURL(url string) (mediaType string, data string, ok bool) {
	m := dataURLRegexp.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
