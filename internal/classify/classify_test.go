package classify

import (
	"testing"

	"log-gateway/internal/model"
)

func TestSystemArea(t *testing.T) {
	cases := []struct {
		name string
		md   Metadata
		want model.SystemArea
	}{
		{
			"explicit wins",
			Metadata{Explicit: "edge_worker", Origin: "https://x", UserAgent: "Mozilla/5.0"},
			model.AreaEdgeWorker,
		},
		{
			"invalid explicit falls through",
			Metadata{Explicit: "mainframe", Origin: "https://x", UserAgent: "Mozilla/5.0"},
			model.AreaClient,
		},
		{
			"browser",
			Metadata{Origin: "https://app.example.com", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X)"},
			model.AreaClient,
		},
		{
			"cloudflare worker",
			Metadata{UserAgent: "Cloudflare-Workers"},
			model.AreaEdgeWorker,
		},
		{
			"node runtime",
			Metadata{UserAgent: "node-fetch/3.3"},
			model.AreaServerFunction,
		},
		{
			"undici",
			Metadata{UserAgent: "undici"},
			model.AreaServerFunction,
		},
		{
			"browser UA without origin is not a client",
			Metadata{UserAgent: "Mozilla/5.0"},
			model.AreaManual,
		},
		{
			"nothing known",
			Metadata{UserAgent: "curl/8.0.1"},
			model.AreaManual,
		},
		{
			"empty metadata",
			Metadata{},
			model.AreaManual,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SystemArea(tc.md); got != tc.want {
				t.Errorf("SystemArea(%+v) = %s, want %s", tc.md, got, tc.want)
			}
		})
	}
}
