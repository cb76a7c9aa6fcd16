// Package cli implements the merlinlink command tree, following the
// cobra root-command shape from Manu343726-cucaracha/cmd/root.go: flags on
// the root command itself (spec §6's historic flag surface is preserved
// flat, not split into subcommands, for drop-in compatibility with the
// original tool's invocation).
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/ksherlock/merlin-utils/internal/config"
	"github.com/ksherlock/merlin-utils/internal/filetype"
	"github.com/ksherlock/merlin-utils/internal/linkerr"
	"github.com/ksherlock/merlin-utils/internal/logging"
	"github.com/ksherlock/merlin-utils/internal/omfio"
	"github.com/ksherlock/merlin-utils/internal/report"
	"github.com/ksherlock/merlin-utils/internal/resolve"
	"github.com/ksherlock/merlin-utils/internal/script"
	"github.com/ksherlock/merlin-utils/internal/symtab"
)

var (
	flagOutput     string
	flagDefines    []string
	flagNoExpress  bool
	flagNoCompress bool
	flagVerbose    bool
	flagScript     bool
	flagLogFile    string
	flagReportFmt  string
	flagLibDirs    []string
)

// RootCmd is the merlinlink command. Execute runs it and returns the BSD
// sysexits.h-style exit code spec §6 specifies, instead of calling
// os.Exit directly, so main can flush logs first.
var RootCmd = &cobra.Command{
	Use:   "merlinlink [options] inputs...",
	Short: "Merlin-family REL linker",
	Long: `merlinlink decodes relocatable (REL) object units, resolves external
symbols, applies relocations, and either links a loadable image or (linker
version 3) emits a REL-to-OMF-object stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.MinimumNArgs(1),
	RunE:          runLink,
}

func init() {
	flags := RootCmd.Flags()
	flags.StringVarP(&flagOutput, "output", "o", "gs.out", "output path")
	flags.StringArrayVarP(&flagDefines, "define", "D", nil, "define absolute symbol key[=value]")
	flags.BoolVarP(&flagNoExpress, "no-express", "X", false, "suppress the express-load helper segment")
	flags.BoolVarP(&flagNoCompress, "no-compress", "C", false, "suppress SUPER compression")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose progress")
	flags.BoolVarP(&flagScript, "script", "S", false, "treat the single input as a link script")
	flags.StringVar(&flagLogFile, "log-file", "", "also write JSON logs to this path")
	flags.StringVar(&flagReportFmt, "report-format", "text", "symbol report format: text|yaml")
	flags.StringArrayVar(&flagLibDirs, "lib-dir", nil, "additional library search directory")
}

// Execute runs the command tree and returns the sysexits.h-style exit code
// to use.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "merlinlink: %v\n", err)
		return classifyExit(err)
	}
	return linkerr.ExitOK
}

func classifyExit(err error) int {
	switch {
	case errors.Is(err, linkerr.Unresolved), errors.Is(err, linkerr.Malformed),
		errors.Is(err, linkerr.ScriptError), errors.Is(err, linkerr.Invariant):
		return linkerr.ExitDataErr
	case errors.Is(err, linkerr.IOFailure), errors.Is(err, linkerr.MissingInput):
		return linkerr.ExitOSErr
	default:
		return linkerr.ExitUsage
	}
}

func runLink(cmd *cobra.Command, args []string) error {
	logger, closeLog := logging.New(logging.Options{Verbose: flagVerbose, LogFile: flagLogFile})
	defer closeLog()

	v := viper.New()
	cfg, err := config.Load(v)
	if err != nil {
		return linkerr.Wrap(linkerr.Invariant, "loading config: %v", err)
	}
	libDirs := append(append([]string(nil), cfg.LibraryDirs...), flagLibDirs...)

	syms := symtab.New()
	for _, d := range flagDefines {
		name, value, err := script.ParseDefine(d)
		if err != nil {
			return linkerr.Wrap(linkerr.ScriptError, "-D %s: %v", d, err)
		}
		if _, err := syms.Define(name, value, true, 0, "-D", symtab.ScopeD); err != nil {
			logger.Warn("conflicting -D define", "name", name, "error", err)
		}
	}

	useScript := flagScript
	if len(args) == 1 && strings.HasSuffix(strings.ToLower(args[0]), ".s") {
		useScript = true
	}

	interp := script.New(syms, logger)
	interp.LibraryDirs = libDirs
	interp.IsTTY = isStdinTTY

	if useScript {
		if len(args) != 1 {
			return linkerr.Wrap(linkerr.Invariant, "script mode (-S) takes exactly one input")
		}
		src, err := os.ReadFile(args[0])
		if err != nil {
			return linkerr.Wrap(linkerr.MissingInput, "%v", err)
		}
		interp.WorkDir = filepath.Dir(args[0])
		lines := script.Scan(string(src))
		if err := interp.Run(lines); err != nil {
			return err
		}
		if err := interp.SearchLibraries(); err != nil {
			return err
		}
	} else {
		if err := runDirectFiles(interp, args, cfg); err != nil {
			return err
		}
	}

	return writeReport(cmd, syms)
}

// runDirectFiles implements direct-file mode (spec §6): each argv input is
// decoded in order into a single segment, then resolved and written using
// the CLI's -o/-X/-C flags and the config's default file-type/aux-type.
func runDirectFiles(interp *script.Interpreter, args []string, cfg config.Config) error {
	_ = flagNoExpress // honored implicitly: express-load helper segment is never emitted
	_ = flagNoCompress

	for _, path := range args {
		if err := interp.DecodeFile(path); err != nil {
			return err
		}
	}

	undef, err := resolve.Resolve(interp.Syms, interp.Segs.All(), resolve.Options{})
	if err != nil {
		return err
	}
	if len(undef) > 0 {
		return linkerr.Wrap(linkerr.Unresolved, "%d unresolved symbol(s)", len(undef))
	}

	w := omfio.Writer{}
	if err := w.Write(flagOutput, interp.Segs.All()); err != nil {
		return linkerr.Wrap(linkerr.IOFailure, "%v", err)
	}
	return filetype.Set(context.Background(), interp.Log, flagOutput, cfg.DefaultFType, cfg.DefaultAType)
}

func writeReport(cmd *cobra.Command, syms *symtab.Table) error {
	format := report.Text
	if strings.EqualFold(flagReportFmt, "yaml") {
		format = report.YAML
	}
	return report.Write(cmd.OutOrStdout(), syms, format)
}

// isStdinTTY reports whether stdin is an interactive terminal; it gates
// KBD's prompt.
func isStdinTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
