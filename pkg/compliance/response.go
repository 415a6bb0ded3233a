package compliance

import (
	"net/http"
	"strings"
)

var notModifiedEntityHeaders = []string{
	"Content-Encoding",
	"Content-Language",
	"Content-Length",
	"Content-MD5",
	"Content-Range",
	"Content-Type",
	"Last-Modified",
}

// EnsureResponseCompliance fixes up an origin response in place. It
// returns an error when the response cannot be passed on at all.
func (Default) EnsureResponseCompliance(req *http.Request, resp *http.Response) error {
	if req.Method == http.MethodHead ||
		resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusResetContent ||
		resp.StatusCode == http.StatusNotModified {
		drainBody(resp.Body)
		resp.Body = emptyBody()
		if resp.StatusCode != http.StatusNotModified && req.Method != http.MethodHead {
			resp.ContentLength = 0
		}
	}

	if resp.StatusCode == http.StatusPartialContent && req.Header.Get("Range") == "" {
		drainBody(resp.Body)
		return ErrUnrequestedPartialContent
	}

	if req.ProtoMajor == 1 && req.ProtoMinor == 0 {
		resp.Header.Del("Transfer-Encoding")
		resp.Header.Del("TE")
		resp.TransferEncoding = nil
	}

	if req.Method == http.MethodOptions && resp.StatusCode == http.StatusOK &&
		resp.Header.Get("Content-Length") == "" && len(resp.TransferEncoding) == 0 && resp.ContentLength <= 0 {
		resp.Header.Set("Content-Length", "0")
		resp.ContentLength = 0
	}

	if resp.StatusCode == http.StatusNotModified {
		for _, name := range notModifiedEntityHeaders {
			resp.Header.Del(name)
		}
	}

	stripIdentityContentEncoding(resp)
	return nil
}

func stripIdentityContentEncoding(resp *http.Response) {
	values := resp.Header.Values("Content-Encoding")
	if len(values) == 0 {
		return
	}

	var kept []string
	for _, value := range values {
		for _, coding := range strings.Split(value, ",") {
			coding = strings.TrimSpace(coding)
			if coding == "" || strings.EqualFold(coding, "identity") {
				continue
			}
			kept = append(kept, coding)
		}
	}
	resp.Header.Del("Content-Encoding")
	if len(kept) > 0 {
		resp.Header.Set("Content-Encoding", strings.Join(kept, ", "))
	}
}
