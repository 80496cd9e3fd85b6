// Command svnwc is a demonstration CLI driving the working-copy core
// library end to end: formatting an administrative area, translating a
// file between canonical and working form, and three-way merging or
// diffing two files. It exists to exercise the library by hand; the
// library itself is the thing under specification, not this CLI.
//
// Modelled on the teacher's main.go: kingpin flag parsing, a logrus
// logger configured from a --debug level, --version wired to
// perforce/p4prometheus/version, and an optional --profile flag backed
// by pkg/profile.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/svn-wc-core/adminarea"
	"github.com/rcowham/svn-wc-core/config"
	"github.com/rcowham/svn-wc-core/merge"
	"github.com/rcowham/svn-wc-core/subst"
)

func main() {
	app := kingpin.New("svnwc", "Drives the working-copy core library: translation, merge, diff, and administrative-area setup.")
	app.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svnwc")).Author("Robert Cowham")
	app.HelpFlag.Short('h')

	debug := app.Flag("debug", "Enable debug-level logging.").Default("0").Int()
	profileMode := app.Flag("profile", "Enable CPU profiling for the duration of the command (writes cpu.pprof into a new temporary directory).").Bool()
	configFile := app.Flag("config", "Configuration file describing translation defaults and overrides.").Short('c').String()

	initCmd := app.Command("init", "Format a new administrative area at a directory.")
	initDir := initCmd.Arg("dir", "Directory to format.").Required().String()

	translateCmd := app.Command("translate", "Translate a file between canonical and working form.")
	translateExpand := translateCmd.Flag("expand", "Materialise (canonical -> working); omit to canonicalise (working -> canonical).").Bool()
	translateRelpath := translateCmd.Flag("relpath", "Working-copy relative path, for override matching.").Default("").String()
	translateRevision := translateCmd.Flag("revision", "Revision substituted for $Revision$.").Default("0").String()
	translateAuthor := translateCmd.Flag("author", "Author substituted for $Author$.").Default("").String()
	translateURL := translateCmd.Flag("url", "URL substituted for $URL$/$HeadURL$.").Default("").String()
	translateIn := translateCmd.Arg("in", "Input file, or - for stdin.").Required().String()
	translateOut := translateCmd.Arg("out", "Output file, or - for stdout.").Required().String()

	mergeCmd := app.Command("merge", "Three-way merge ancestor/theirs/mine, writing the result (with conflict markers if needed) to stdout.")
	mergeAncestor := mergeCmd.Arg("ancestor", "Common ancestor file.").Required().String()
	mergeTheirs := mergeCmd.Arg("theirs", "Incoming file.").Required().String()
	mergeMine := mergeCmd.Arg("mine", "Locally modified file.").Required().String()

	diffCmd := app.Command("diff", "Render a two-way unified diff of two files to stdout.")
	diffA := diffCmd.Arg("a", "Original file.").Required().String()
	diffB := diffCmd.Arg("b", "Modified file.").Required().String()
	diffContext := diffCmd.Flag("context", "Lines of context around each hunk.").Default("3").Int()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *profileMode {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("svnwc"))
	logger.Infof("Starting %s, command: %v", startTime, cmd)
	logger.Infof("OS: %s/%s", runtime.GOOS, runtime.GOARCH)

	cfg := &config.Config{}
	if *configFile != "" {
		loaded, err := config.LoadConfigFile(*configFile)
		if err != nil {
			logger.Fatalf("error loading config file: %v", err)
		}
		cfg = loaded
	}

	var err error
	switch cmd {
	case initCmd.FullCommand():
		err = runInit(logger, *initDir)
	case translateCmd.FullCommand():
		err = runTranslate(cfg, translateOptions{
			expand:   *translateExpand,
			relpath:  *translateRelpath,
			revision: *translateRevision,
			author:   *translateAuthor,
			url:      *translateURL,
			in:       *translateIn,
			out:      *translateOut,
		})
	case mergeCmd.FullCommand():
		err = runMerge(cfg, *mergeAncestor, *mergeTheirs, *mergeMine)
	case diffCmd.FullCommand():
		err = runDiff(*diffA, *diffB, *diffContext)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func runInit(logger *logrus.Logger, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	_, err := adminarea.Format(dir, logrus.NewEntry(logger))
	if err != nil {
		return err
	}
	logger.Infof("formatted administrative area at %s", dir)
	return nil
}

type translateOptions struct {
	expand   bool
	relpath  string
	revision string
	author   string
	url      string
	in, out  string
}

func runTranslate(cfg *config.Config, opts translateOptions) error {
	src, err := openInput(opts.in)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, closeOut, err := openOutput(opts.out)
	if err != nil {
		return err
	}
	defer closeOut()

	values := subst.BuildValues(opts.relpath, opts.revision, time.Now().Format(time.RFC3339), opts.author, opts.url)
	substOpts := cfg.OptionsFor(opts.relpath, values, opts.expand)
	return subst.TranslateStream(src, dst, substOpts)
}

func runMerge(cfg *config.Config, ancestorPath, theirsPath, minePath string) error {
	ancestor, err := os.ReadFile(ancestorPath)
	if err != nil {
		return err
	}
	theirs, err := os.ReadFile(theirsPath)
	if err != nil {
		return err
	}
	mine, err := os.ReadFile(minePath)
	if err != nil {
		return err
	}

	labels := merge.DefaultLabels()
	if cfg != nil {
		labels = cfg.MergeLabels()
	}
	result, err := merge.Merge(ancestor, theirs, mine, labels)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(result.Output); err != nil {
		return err
	}
	if result.Conflicts > 0 {
		return fmt.Errorf("%d conflict(s)", result.Conflicts)
	}
	return nil
}

func runDiff(aPath, bPath string, context int) error {
	a, err := os.ReadFile(aPath)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(bPath)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(merge.UnifiedDiff(a, b, context))
	return err
}

func openInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func openOutput(path string) (*os.File, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
