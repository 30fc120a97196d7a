package templates

import "strings"

// apiBase returns the URL prefix of the remote browsing endpoints for a
// router mounted at basePath.
func apiBase(basePath string) string {
	return strings.TrimRight(basePath, "/") + "/Smack"
}

// pageTitle builds the document title, appending the build version when known.
func pageTitle(version string) string {
	if version == "" || version == "dev" {
		return "Smack Browser"
	}
	return "Smack Browser " + version
}
