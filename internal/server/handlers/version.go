package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/quotelens/quotelens/internal/appid"
)

var (
	versionMu    sync.RWMutex
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
	appIdentity  *appidentity.Identity
	quoteInfo    QuoteInfo
)

// SetVersionInfo sets the version information for the handler
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// SetAppIdentity overrides the compiled-in identity.
func SetAppIdentity(identity *appidentity.Identity) {
	versionMu.Lock()
	defer versionMu.Unlock()
	appIdentity = identity
}

// SetQuoteProvider records the active quote provider and its optional capabilities.
func SetQuoteProvider(name string, capabilities []string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	quoteInfo = QuoteInfo{Provider: name, Capabilities: append([]string(nil), capabilities...)}
}

// VersionResponse represents the version information response
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Quotes       QuoteInfo   `json:"quotes"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// QuoteInfo describes the configured quote upstream.
type QuoteInfo struct {
	Provider     string   `json:"provider,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// DepInfo contains dependency version information
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// CurrentVersion assembles the version response; the CLI prints the same data.
func CurrentVersion(ctx context.Context) VersionResponse {
	versionMu.RLock()
	identity := appIdentity
	resp := VersionResponse{
		App: AppInfo{
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Quotes: quoteInfo,
	}
	versionMu.RUnlock()

	if identity == nil {
		identity, _ = appid.Get(ctx)
	}
	resp.App.Name = appid.BinaryName
	if identity != nil && identity.BinaryName != "" {
		resp.App.Name = identity.BinaryName
	}

	version := crucible.GetVersion()
	resp.Dependencies = DepInfo{Gofulmen: version.Gofulmen, Crucible: version.Crucible}
	resp.Runtime = RuntimeInfo{
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		NumGoroutines: runtime.NumGoroutine(),
	}
	return resp
}

// VersionHandler handles version information requests
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentVersion(r.Context()))
}
