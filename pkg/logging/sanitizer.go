package logging

import (
	"net/url"
	"regexp"
)

// RedactedText replaces sensitive values in log output and error responses.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// AWS access key ids (long-term AKIA and temporary ASIA)
	awsAccessKeyPattern = regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)

	// Presigned URL signatures, session tokens and SNS subscription tokens
	signedParamPattern = regexp.MustCompile(`(?i)(X-Amz-Signature|X-Amz-Security-Token|X-Amz-Credential|Token)=[^&\s"]+`)

	// user:pass@host in postgres:// and redis:// URLs
	userInfoPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a database or cache
// connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError renders err without credentials, bearer tokens or AWS
// signing material. Use it for anything returned to a client.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = awsAccessKeyPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = signedParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeURL drops the query string and user info from a URL. SNS
// SubscribeURLs carry the confirmation token in the query.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactedText
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// TruncateString truncates s to maxLen bytes and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
