package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyRepo       = "repository"
	KeyBranch     = "branch"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyCommit     = "commit"
	KeyTag        = "tag"
	KeyHost       = "host"
	KeyOrg        = "org"
	KeyDurationMS = "duration_ms"
	KeyScanner    = "scanner"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr     { return slog.String(KeyRunID, id) }
func Repository(r string) slog.Attr { return slog.String(KeyRepo, r) }
func Branch(b string) slog.Attr     { return slog.String(KeyBranch, b) }
func URL(u string) slog.Attr        { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func Commit(c string) slog.Attr     { return slog.String(KeyCommit, c) }
func Tag(t string) slog.Attr        { return slog.String(KeyTag, t) }
func Host(h string) slog.Attr       { return slog.String(KeyHost, h) }
func Org(o string) slog.Attr        { return slog.String(KeyOrg, o) }
func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Milliseconds()))
}
func Scanner(s string) slog.Attr { return slog.String(KeyScanner, s) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
