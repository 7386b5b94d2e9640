// Package main provides the versiontool CLI for artifact version management.
//
// This CLI reads JSON requests from stdin, operates on the local
// filesystem through the version store, and writes JSON results to
// stdout. Designed for subprocess-based interop with pipeline scripts.
//
// Usage:
//
//	# Compute a file's content digest
//	echo '{"path": "out.nwb"}' | versiontool checksum
//
//	# Create a checksummed version copy for an attempt
//	echo '{"path": "out.nwb", "attempt": 2}' | versiontool create
//
//	# Verify a file against a stored digest
//	echo '{"path": "out.nwb", "checksum": "..."}' | versiontool verify
//
//	# List all version siblings of a base file
//	echo '{"path": "out.nwb"}' | versiontool list
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/datamorph-labs/convassist/coreengine/versionstore"
)

const (
	cmdChecksum = "checksum"
	cmdCreate   = "create"
	cmdVerify   = "verify"
	cmdList     = "list"
	cmdVersion  = "version"
)

// Version information
const (
	Version = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case cmdVersion:
		handleVersion()
	case cmdChecksum:
		handleChecksum()
	case cmdCreate:
		handleCreate()
	case cmdVerify:
		handleVerify()
	case cmdList:
		handleList()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: versiontool <command>

Commands:
  checksum  Compute a file's SHA-256 digest
  create    Copy a file to its versioned name for an attempt
  verify    Verify a file against an expected digest
  list      List version siblings of a base file
  version   Print version information

Input/Output:
  All commands read a JSON request from stdin and write JSON to stdout.
  Errors are written to stdout as {"error": true, ...}.

Examples:
  echo '{"path":"out.nwb"}' | versiontool checksum
  echo '{"path":"out.nwb","attempt":1}' | versiontool create
  echo '{"path":"out.nwb","checksum":"a3f9..."}' | versiontool verify`)
}

// handleVersion prints version information.
func handleVersion() {
	writeJSON(map[string]string{
		"version": Version,
	})
}

// handleChecksum computes a file's full content digest.
func handleChecksum() {
	var req struct {
		Path string `json:"path"`
	}
	if !readRequest(&req) {
		return
	}

	store := versionstore.NewStore(nil)
	digest, err := store.Checksum(req.Path)
	if err != nil {
		writeError("checksum_error", err.Error())
		os.Exit(1)
	}

	writeJSON(map[string]any{
		"path":     req.Path,
		"checksum": digest,
	})
}

// handleCreate copies a file to its versioned name.
func handleCreate() {
	var req struct {
		Path    string `json:"path"`
		Attempt int    `json:"attempt"`
	}
	if !readRequest(&req) {
		return
	}
	if req.Attempt < 0 {
		writeError("invalid_attempt", fmt.Sprintf("attempt must be >= 0, got %d", req.Attempt))
		os.Exit(1)
	}

	store := versionstore.NewStore(nil)
	versionPath, digest, err := store.CreateVersion(req.Path, req.Attempt)
	if err != nil {
		writeError("create_error", err.Error())
		os.Exit(1)
	}

	writeJSON(map[string]any{
		"path":         req.Path,
		"version_path": versionPath,
		"attempt":      req.Attempt,
		"checksum":     digest,
	})
}

// handleVerify checks a file against an expected digest.
func handleVerify() {
	var req struct {
		Path     string `json:"path"`
		Checksum string `json:"checksum"`
	}
	if !readRequest(&req) {
		return
	}

	store := versionstore.NewStore(nil)
	writeJSON(map[string]any{
		"path":  req.Path,
		"valid": store.Verify(req.Path, req.Checksum),
	})
}

// handleList discovers version siblings of a base file.
func handleList() {
	var req struct {
		Path string `json:"path"`
	}
	if !readRequest(&req) {
		return
	}

	store := versionstore.NewStore(nil)
	versions, err := store.ListVersions(req.Path)
	if err != nil {
		writeError("list_error", err.Error())
		os.Exit(1)
	}
	if versions == nil {
		versions = []versionstore.VersionInfo{}
	}

	writeJSON(map[string]any{
		"path":     req.Path,
		"versions": versions,
	})
}

// readRequest reads and parses the stdin JSON request into v.
// On failure it writes an error response and exits.
func readRequest(v any) bool {
	reader := bufio.NewReader(os.Stdin)
	input, err := io.ReadAll(reader)
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}
	if err := json.Unmarshal(input, v); err != nil {
		writeError("parse_error", fmt.Sprintf("Invalid JSON: %s", err.Error()))
		os.Exit(1)
	}
	return true
}

// writeJSON writes a JSON object to stdout.
func writeJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %s\n", err.Error())
		os.Exit(1)
	}
}

// writeError writes an error response to stdout.
func writeError(code, message string) {
	writeJSON(map[string]any{
		"error":   true,
		"code":    code,
		"message": message,
	})
}
