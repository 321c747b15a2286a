package version

// Version is overridden at build time with
// -ldflags "-X github.com/cbodonnell/civlink/pkg/version.Version=v1.2.3".
var Version = "dev"

// Get returns the client version sent in the login packet.
func Get() string {
	return "civlink/" + Version
}
