package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

type AboutResponse struct {
	Service    string `json:"service"`
	NowUTC     string `json:"now_utc"`
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
}

// BuildInfo reports the binary's module version and VCS stamp.
func BuildInfo() AboutResponse {
	resp := AboutResponse{
		Service:   "cztelemetry",
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.ModulePath = bi.Main.Path
		resp.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Commit = s.Value
			case "vcs.modified":
				resp.Dirty = s.Value == "true"
			}
		}
	}
	return resp
}

func AboutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, BuildInfo())
	})
}
