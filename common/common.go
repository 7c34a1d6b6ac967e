package common

var Version = "dev"

const PackageName = "github.com/ruteri/resource-store"
