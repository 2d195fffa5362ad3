package classify

import (
	"strings"

	"log-gateway/internal/model"
)

// Metadata is the request context a producing system arrives with.
type Metadata struct {
	// Explicit is the value of the X-System-Area header or the
	// system_area field of the submission, when supplied.
	Explicit  string
	Origin    string
	UserAgent string
}

// SystemArea maps request metadata to a producing system. An explicit,
// valid value always wins; otherwise the origin and user agent are
// inspected, falling back to manual when nothing matches.
func SystemArea(md Metadata) model.SystemArea {
	if a := model.SystemArea(md.Explicit); a.Valid() {
		return a
	}

	ua := strings.ToLower(md.UserAgent)

	switch {
	case strings.Contains(ua, "cloudflare-workers") || strings.Contains(ua, "workers-runtime"):
		return model.AreaEdgeWorker
	case strings.Contains(ua, "node") || strings.Contains(ua, "undici") || strings.Contains(ua, "deno"):
		return model.AreaServerFunction
	case md.Origin != "" && strings.Contains(ua, "mozilla"):
		return model.AreaClient
	}

	return model.AreaManual
}
