package database

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
)

// URL is a parsed connection URL:
//
//	scheme://[user[:pass]@]host[:port]/databaseName[?option=value&...]
type URL struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Path     string
	// Name is the path trimmed of slashes, the canonical database name.
	Name  string
	Query url.Values

	raw string
}

// URLParse parses a connection URL and synthesizes its Name.
func URLParse(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.Semantics("Empty database URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(errors.KindSemantics, err, "Invalid database URL {url}").
			WithVar("url", redact(raw))
	}
	if u.Scheme == "" {
		return nil, errors.Semantics("Database URL {url} has no scheme").WithVar("url", redact(raw))
	}
	result := &URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
		Path:   u.Path,
		Name:   strings.Trim(u.Path, "/"),
		Query:  u.Query(),
		raw:    raw,
	}
	if u.User != nil {
		result.User = u.User.Username()
		result.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Semantics("Invalid port {port} in database URL").WithVar("port", p)
		}
		result.Port = port
	}
	return result, nil
}

// String returns the URL with its password.
func (u *URL) String() string {
	return u.build(false)
}

// Safe returns the URL with the password replaced.
func (u *URL) Safe() string {
	return u.build(true)
}

// Option returns a query option or def.
func (u *URL) Option(name, def string) string {
	if v := u.Query.Get(name); v != "" {
		return v
	}
	return def
}

func (u *URL) build(safe bool) string {
	out := &url.URL{Scheme: u.Scheme, Path: u.Path}
	host := u.Host
	if u.Port != 0 {
		host += ":" + strconv.Itoa(u.Port)
	}
	out.Host = host
	switch {
	case u.User != "" && u.Password != "" && safe:
		out.User = url.UserPassword(u.User, "xxxxxx")
	case u.User != "" && u.Password != "":
		out.User = url.UserPassword(u.User, u.Password)
	case u.User != "":
		out.User = url.User(u.User)
	}
	if len(u.Query) > 0 {
		out.RawQuery = u.Query.Encode()
	}
	return out.String()
}

// redact hides anything between "://" and "@" for error messages about
// URLs that could not be parsed.
func redact(raw string) string {
	start := strings.Index(raw, "://")
	at := strings.LastIndex(raw, "@")
	if start < 0 || at < start {
		return raw
	}
	return raw[:start+3] + "xxxxxx" + raw[at:]
}
