package infra

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	CommitSHA = "unknown"
)

func GetVersionInfo() string {
	return fmt.Sprintf("vaultsign:\n Version: %s\n Go version: %s\n Git commit: %s\n OS/Arch: %s\n",
		Version, runtime.Version(), CommitSHA, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
}
