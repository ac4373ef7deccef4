package dispatch

import (
	"net/url"
	"path"
	"strings"
)

// ScriptName returns the entry script of the deployment, the last element of
// scriptPath ("index.php" for "/app/index.php"). A scriptPath ending in "/"
// has no entry script.
func ScriptName(scriptPath string) string {
	if scriptPath == "" || strings.HasSuffix(scriptPath, "/") {
		return ""
	}
	return path.Base(scriptPath)
}

// BasePath returns the installation prefix: scriptPath without its entry
// script ("/app/" for "/app/index.php").
func BasePath(scriptPath, scriptName string) string {
	if scriptName == "" {
		return scriptPath
	}
	return strings.TrimSuffix(scriptPath, scriptName)
}

// LogicalPath extracts the page path from a raw request target. The first
// len(basePath) bytes are dropped, then a leading entry script if present,
// then the query string, and finally the surrounding slashes. Each segment is
// unescaped on its own so an escaped slash stays "%2F" and never splits a
// segment in two.
func LogicalPath(requestURI, scriptName, basePath string) string {
	rest := requestURI
	if len(basePath) >= len(rest) {
		rest = ""
	} else {
		rest = rest[len(basePath):]
	}

	if scriptName != "" {
		trimmed := strings.TrimPrefix(rest, "/")
		if strings.HasPrefix(trimmed, scriptName) {
			rest = trimmed[len(scriptName):]
		}
	}

	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.Trim(unescapeSegments(rest), "/")
}

func unescapeSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			continue
		}
		segments[i] = strings.ReplaceAll(unescaped, "/", "%2F")
	}
	return strings.Join(segments, "/")
}
