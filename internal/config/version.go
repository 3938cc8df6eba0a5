package config

// Version is the clustering worker binary version.
// Set at build time via: -ldflags "-X github.com/topictrends/cluster-core/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
