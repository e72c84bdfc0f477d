package cwl

import "strings"

// Supported URI schemes for CWL Directory/File location.
const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeHTTPS = "https"
	SchemeHTTP  = "http"
)

// ParseLocationScheme extracts the scheme from a location URI.
// Returns ("s3", "my-bucket/reads.fastq") for "s3://my-bucket/reads.fastq".
// Returns ("", raw) for bare strings with no scheme.
func ParseLocationScheme(location string) (scheme, path string) {
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
		path = location[i+3:]
		// Normalize: file:///path → /path. s3://bucket/key keeps its bucket prefix.
		if scheme == SchemeFile {
			path = "/" + strings.TrimLeft(path, "/")
		}
		return scheme, path
	}
	return "", location
}

// BuildLocation constructs a scheme://path URI.
func BuildLocation(scheme, path string) string {
	switch scheme {
	case SchemeFile:
		return "file://" + path
	default:
		return scheme + "://" + path
	}
}

// InferScheme guesses the URI scheme for a bare string based on executor type.
func InferScheme(executorType string) string {
	switch executorType {
	case "container", "local":
		return SchemeFile
	default:
		return SchemeFile
	}
}
