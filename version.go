package main

// Version is the build version, overridable at link time with
// -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"
