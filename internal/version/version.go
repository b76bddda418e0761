// Package version holds the release identifiers shared by every redelk binary.
package version

// Version is the toolkit release. Overridden at link time with -X.
var Version = "3.0.0"

// ElkVersion is the Elastic stack release the installers deploy and pin Filebeat to.
const ElkVersion = "8.11.3"
