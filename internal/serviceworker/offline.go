package serviceworker

import "net/http"

const offlinePage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>StaySense offline</title></head>
<body>
<h1>You are offline</h1>
<p>StaySense cannot reach the server right now. Cached scores remain available and signals are sent once the connection returns.</p>
</body>
</html>
`

func offlineJSON() *Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set(SourceHeader, SourceOffline)
	return &Response{Status: http.StatusServiceUnavailable, Header: h, Body: []byte(`{"error":"offline"}`)}
}

func offlineHTML() *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set(SourceHeader, SourceOffline)
	return &Response{Status: http.StatusServiceUnavailable, Header: h, Body: []byte(offlinePage)}
}
