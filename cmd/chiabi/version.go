package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chiabi/internal/bitcode"
	"chiabi/internal/chiabi"
	"chiabi/internal/version"
)

// buildInfo is what `chiabi version` reports. The bitcode schema and the
// runtime entry points decide whether lowered units and kernel blobs from
// two builds are interchangeable.
type buildInfo struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	Bitcode   string `json:"bitcode"`
	FrameType string `json:"frame_type"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show chiabi build and ABI fingerprints",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	versionCmd.Flags().Bool("full", false, "include git commit and build date")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	full, err := cmd.Flags().GetBool("full")
	if err != nil {
		return err
	}
	info := currentBuild(full)
	switch strings.ToLower(format) {
	case "json":
		return writeVersionJSON(cmd.OutOrStdout(), info)
	case "pretty":
		writeVersionPretty(cmd.OutOrStdout(), info)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
}

func currentBuild(full bool) buildInfo {
	info := buildInfo{
		Tool:      "chiabi",
		Version:   strings.TrimSpace(version.Version),
		Bitcode:   fmt.Sprintf("%s v%d", bitcode.Magic, bitcode.SchemaVersion),
		FrameType: chiabi.FrameTypeName,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if full {
		info.GitCommit = orUnknown(version.GitCommit)
		info.BuildDate = orUnknown(version.BuildDate)
	}
	return info
}

func writeVersionPretty(out io.Writer, info buildInfo) {
	fmt.Fprintf(out, "chiabi %s\n", version.Pretty())
	fmt.Fprintf(out, "  bitcode  %s\n", info.Bitcode)
	fmt.Fprintf(out, "  frame    %%%s\n", info.FrameType)
	if info.GitCommit != "" {
		fmt.Fprintf(out, "  commit   %s\n", info.GitCommit)
	}
	if info.BuildDate != "" {
		fmt.Fprintf(out, "  built    %s\n", info.BuildDate)
	}
}

func writeVersionJSON(out io.Writer, info buildInfo) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}
