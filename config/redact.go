package config

import (
	"net/url"
	"regexp"
)

// keyValuePassword matches password fields in key=value style DSNs
// (lib/pq's alternate form).
var keyValuePassword = regexp.MustCompile(`(?i)(password\s*=\s*)\S+`)

// mysqlUserPass matches the user:password@ prefix of go-sql-driver
// DSNs, which are not URLs.
var mysqlUserPass = regexp.MustCompile(`^([^:@/]+):([^@]+)@`)

// Redact returns a connection string safe for logs and diagnostic
// output. The password is replaced, never removed, so operators can
// still see which credential was in use.
func Redact(dsn string) string {
	if dsn == "" {
		return ""
	}

	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}

	if mysqlUserPass.MatchString(dsn) {
		return mysqlUserPass.ReplaceAllString(dsn, "${1}:xxxxx@")
	}
	return keyValuePassword.ReplaceAllString(dsn, "${1}xxxxx")
}
