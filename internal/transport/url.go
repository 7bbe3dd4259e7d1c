package transport

import "net/url"

// redactURL hides one-time credentials before a URL reaches the logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("ticket") {
		q.Set("ticket", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
