package version

// Version wird beim Build per -ldflags "-X github.com/tensorio/bridge/version.Version=..." gesetzt.
var Version string = "0.0.0"
