package cmd

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set through -ldflags "-X". Anything left at its default is filled from the
// build info the Go toolchain embeds in the binary.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type buildInfo struct {
	Version   string
	Commit    string
	Date      string
	Modified  bool
	GoVersion string
	Module    string
}

func resolveBuildInfo(read func() (*debug.BuildInfo, bool)) buildInfo {
	info := buildInfo{Version: Version, Commit: GitCommit, Date: BuildDate}

	bi, ok := read()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	info.Module = bi.Main.Path
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func (b buildInfo) print(w io.Writer) {
	fmt.Fprintf(w, "ragebaiter version %s\n", b.Version)
	commit := b.Commit
	if b.Modified {
		commit += " (modified)"
	}
	fmt.Fprintf(w, "  Git commit: %s\n", commit)
	fmt.Fprintf(w, "  Build date: %s\n", b.Date)
	if b.GoVersion != "" {
		fmt.Fprintf(w, "  Go:         %s\n", b.GoVersion)
	}
	if b.Module != "" {
		fmt.Fprintf(w, "  Module:     %s\n", b.Module)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version, git commit, build date and toolchain of ragebaiter.`,
	Run: func(cmd *cobra.Command, args []string) {
		resolveBuildInfo(debug.ReadBuildInfo).print(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
