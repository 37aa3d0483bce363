package fetch

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// jsShellMaxBytes is the largest body still plausibly a JS-only shell.
// Real policy pages carry far more text than a loader stub.
const jsShellMaxBytes = 2000

var cloudflareMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
}

var captchaMarkers = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
}

// DetectBlock checks an HTTP response for signs of anti-bot protection.
// Payer portals front-end their policy PDFs and bulletins with the same
// vendors as everyone else, so the markers are generic.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if cloudflareBlocked(resp) {
		return true, BlockCloudflare
	}

	lower := strings.ToLower(string(body))

	for _, m := range cloudflareMarkers {
		if strings.Contains(lower, m) {
			return true, BlockCloudflare
		}
	}
	if strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return true, BlockCaptcha
		}
	}

	if len(body) < jsShellMaxBytes {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

// cloudflareBlocked reports a challenge response identified by status and
// the cf-* response headers.
func cloudflareBlocked(resp *http.Response) bool {
	if resp.StatusCode != 403 && resp.StatusCode != 503 {
		return false
	}
	return resp.Header.Get("cf-ray") != "" ||
		resp.Header.Get("cf-cache-status") != "" ||
		resp.Header.Get("server") == "cloudflare"
}
