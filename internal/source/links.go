package source

import (
	"fmt"
	"strings"
)

// BlobURL links to a file line on a hosted repository. It returns "" for
// remotes that are not http(s).
func BlobURL(repoURL, ref, path string, line int) string {
	if !strings.HasPrefix(repoURL, "https://") && !strings.HasPrefix(repoURL, "http://") {
		return ""
	}
	base := strings.TrimSuffix(strings.TrimSuffix(redactURL(repoURL), "/"), ".git")
	if ref == "" {
		ref = "HEAD"
	}
	link := fmt.Sprintf("%s/blob/%s/%s", base, ref, strings.TrimPrefix(path, "/"))
	if line > 0 {
		link += fmt.Sprintf("#L%d", line)
	}
	return link
}
