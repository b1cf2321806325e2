package version

// Version is the current version of the camcast broker.
// Release builds override it with:
//
//	go build -ldflags="-X 'github.com/phudinh153/camcast/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent is sent to the signaling relay on connect.
func UserAgent() string {
	return "camcast/" + Version
}
