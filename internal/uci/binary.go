package uci

import (
	"fmt"
	"path/filepath"
	"runtime"
)

type platformKey struct {
	os   string
	arch string
	kind Kind
}

// Engine binaries ship per platform under the configured binary directory.
var binaryNames = map[platformKey]string{
	{"linux", "amd64", KindSuggestion}:   "dragon-linux-amd64",
	{"linux", "arm64", KindSuggestion}:   "dragon-linux-arm64",
	{"darwin", "amd64", KindSuggestion}:  "dragon-darwin-amd64",
	{"darwin", "arm64", KindSuggestion}:  "dragon-darwin-arm64",
	{"windows", "amd64", KindSuggestion}: "dragon-windows-amd64.exe",
	{"linux", "amd64", KindAnalysis}:     "stockfish-linux-amd64",
	{"linux", "arm64", KindAnalysis}:     "stockfish-linux-arm64",
	{"darwin", "amd64", KindAnalysis}:    "stockfish-darwin-amd64",
	{"darwin", "arm64", KindAnalysis}:    "stockfish-darwin-arm64",
	{"windows", "amd64", KindAnalysis}:   "stockfish-windows-amd64.exe",
}

// BinaryPath resolves the engine binary for the current platform. It fails
// when no binary is shipped for the (os, arch, kind) combination.
func BinaryPath(dir string, kind Kind) (string, error) {
	return binaryPathFor(dir, runtime.GOOS, runtime.GOARCH, kind)
}

func binaryPathFor(dir, goos, goarch string, kind Kind) (string, error) {
	name, ok := binaryNames[platformKey{goos, goarch, kind}]
	if !ok {
		return "", fmt.Errorf("no %s engine binary for %s/%s", kind, goos, goarch)
	}
	return filepath.Join(dir, name), nil
}
