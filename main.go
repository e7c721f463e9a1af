package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/brel-ge/kcfg-vex/cve"
	"github.com/brel-ge/kcfg-vex/dotconfig"
	"github.com/brel-ge/kcfg-vex/git"
	"github.com/brel-ge/kcfg-vex/graph"
	"github.com/brel-ge/kcfg-vex/kconfig"
	"github.com/brel-ge/kcfg-vex/sbom"
	"github.com/brel-ge/kcfg-vex/tracer"
	"github.com/brel-ge/kcfg-vex/utils"
	"github.com/brel-ge/kcfg-vex/vex"
	"github.com/brel-ge/kcfg-vex/yocto"
)

var (
	target       = flag.String("target", "", "command (trace, fetch, scan)")
	kernelSrc    = flag.String("kernel-src", "", "path to a kernel source tree")
	kernelSrcURL = flag.String("kernel-src-url", "", "URL of a kernel source archive, downloaded to a temp dir")
	kernelGit    = flag.String("kernel-git", "", "git URL of a kernel tree, shallow cloned into the cache dir")
	kernelBranch = flag.String("kernel-branch", "", "branch for -kernel-git")
	arch         = flag.String("arch", "x86", "SRCARCH used to resolve Kconfig source directives")
	dotConfig    = flag.String("dotconfig", "", ".config snapshot, local path or URL, plain or gzip compressed")
	symbols      = flag.String("symbols", "", "comma-separated CONFIG symbols to trace")
	cveIDs       = flag.String("cve", "", "comma-separated CVE ids")
	yoctoPath    = flag.String("yocto", "", "Yocto cve-summary JSON file")
	symbolMap    = flag.String("symbol-map", "", "YAML file mapping CVE ids to config symbols")
	sbomPath     = flag.String("sbom", "", "CycloneDX SBOM for component references")
	component    = flag.String("component", "linux_kernel", "SBOM component name to attach verdicts to")
	vexOut       = flag.String("vex-out", "", "VEX output file")
	vexSplitDir  = flag.String("vex-split-dir", "", "directory for per-state VEX files")
	outDir       = flag.String("outdir", "", "output directory for fetched CVE records")
	cacheDir     = flag.String("cache-dir", utils.CveCacheDir(), "CVE record cache directory")
	forceRefresh = flag.Bool("force-refresh", false, "refetch CVE records even when cached")
	cacheOnly    = flag.Bool("cache-only", false, "use cached CVE records only, no network")
	quiet        = flag.Bool("quiet", false, "suppress progress output")
	showGraph    = flag.Bool("show-graph", false, "print the dependency graph around traced symbols")
	graphDepth   = flag.Int("graph-depth", 2, "dependency graph rendering depth")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()

	switch *target {
	case "trace":
		return runTrace()
	case "fetch":
		return runFetch()
	case "scan":
		return runScan()
	default:
		return xerrors.Errorf("unknown target %q (trace, fetch, scan)", *target)
	}
}

// loadKernel parses the Kconfig tree and the .config snapshot and builds
// the dependency graph every command shares.
func loadKernel(ctx context.Context) (*graph.Graph, *dotconfig.Config, error) {
	tree, err := resolveKernelTree(ctx)
	if err != nil {
		return nil, nil, err
	}

	root := filepath.Join(tree, "Kconfig")
	log.Printf("parsing Kconfig tree at %s (arch %s)", root, *arch)
	kconf, err := kconfig.Parse(root, kconfig.WithArch(*arch))
	if err != nil {
		return nil, nil, xerrors.Errorf("Kconfig parse error: %w", err)
	}
	for _, diag := range kconf.Diags {
		log.Printf("kconfig: %s", diag)
	}

	g := graph.Build(kconf)
	log.Printf("dependency graph: %d symbols, %d unresolved references",
		g.Len(), len(g.Unresolved()))

	state := dotconfig.FromText("")
	if *dotConfig != "" {
		cfgPath := *dotConfig
		if strings.Contains(cfgPath, "://") {
			log.Printf("downloading .config from %s", cfgPath)
			cfgPath, err = utils.DownloadToTempFile(ctx, cfgPath)
			if err != nil {
				return nil, nil, xerrors.Errorf("failed to download .config: %w", err)
			}
		}
		state, err = dotconfig.Load(cfgPath)
		if err != nil {
			return nil, nil, xerrors.Errorf("failed to load .config: %w", err)
		}
		log.Printf("loaded %d explicit config values, %d enabled",
			state.Len(), len(state.EnabledSet(true)))
	}
	return g, state, nil
}

func resolveKernelTree(ctx context.Context) (string, error) {
	switch {
	case *kernelSrc != "":
		return *kernelSrc, nil
	case *kernelSrcURL != "":
		log.Printf("downloading kernel source from %s", *kernelSrcURL)
		return utils.DownloadToTempDir(ctx, *kernelSrcURL)
	case *kernelGit != "":
		dir := filepath.Join(utils.CacheDir(), "kernel")
		gc := git.Config{}
		if err := gc.CloneOrPull(*kernelGit, dir, *kernelBranch); err != nil {
			return "", xerrors.Errorf("failed to fetch kernel tree: %w", err)
		}
		return dir, nil
	}
	return "", xerrors.New("one of -kernel-src, -kernel-src-url, -kernel-git is required")
}

func runTrace() error {
	targets := splitList(*symbols)
	if len(targets) == 0 {
		return xerrors.New("-symbols is required for trace")
	}

	g, state, err := loadKernel(context.Background())
	if err != nil {
		return err
	}

	result, err := tracer.New(g, state).Evaluate(targets)
	if err != nil {
		return xerrors.Errorf("trace error: %w", err)
	}

	fmt.Printf("verdict: %s\n", result.Verdict)
	if result.Justification != "" {
		fmt.Printf("justification: %s\n", result.Justification)
	}
	fmt.Println("evidence:")
	for _, step := range result.Steps {
		fmt.Printf("  %s = %s: %s\n", step.Symbol, step.Value, step.Reason)
	}
	if *showGraph {
		for _, name := range targets {
			fmt.Print(g.Render(kconfig.CanonicalName(name), *graphDepth))
		}
	}
	return nil
}

func runFetch() error {
	ids := splitList(*cveIDs)
	if len(ids) == 0 {
		return xerrors.New("-cve is required for fetch")
	}

	fetcher := cve.NewFetcher(
		cve.WithCacheDir(*cacheDir),
		cve.WithCacheOnly(*cacheOnly),
		cve.WithQuiet(*quiet),
	)
	results := fetcher.FetchBatch(ids, *forceRefresh)

	appFs := afero.NewOsFs()
	for _, res := range results {
		if res.Err != nil {
			log.Printf("failed to fetch %s: %v", res.ID, res.Err)
			continue
		}
		if *outDir != "" {
			if err := appFs.MkdirAll(*outDir, 0755); err != nil {
				return xerrors.Errorf("mkdir error: %w", err)
			}
			dest := filepath.Join(*outDir, fmt.Sprintf("%s.json", res.ID))
			if err := utils.Write(dest, res.Record); err != nil {
				return xerrors.Errorf("failed to write %s: %w", dest, err)
			}
		}
	}
	return nil
}

func runScan() error {
	ids := splitList(*cveIDs)
	if *yoctoPath != "" {
		summary, err := yocto.Load(*yoctoPath)
		if err != nil {
			return err
		}
		kernelCVEs := summary.KernelCVEs()
		log.Printf("Yocto summary: %d kernel CVEs to triage, %d already patched",
			len(kernelCVEs.Remaining), len(kernelCVEs.Patched))
		ids = append(ids, kernelCVEs.Remaining...)
	}
	if len(ids) == 0 {
		return xerrors.New("no CVEs to scan: pass -cve or -yocto")
	}

	g, state, err := loadKernel(context.Background())
	if err != nil {
		return err
	}

	if lastUpdated, err := utils.GetLastUpdatedDate("cve"); err == nil && lastUpdated.Unix() > 0 {
		log.Printf("CVE cache last refreshed %s", lastUpdated.Format(time.RFC3339))
	}

	fetcher := cve.NewFetcher(
		cve.WithCacheDir(*cacheDir),
		cve.WithCacheOnly(*cacheOnly),
		cve.WithQuiet(*quiet),
	)
	results := fetcher.FetchBatch(ids, *forceRefresh)
	if !*cacheOnly {
		if err := utils.SetLastUpdatedDate("cve", time.Now().UTC()); err != nil {
			log.Printf("failed to record cache refresh time: %v", err)
		}
	}

	if *symbolMap != "" {
		m, err := cve.LoadSymbolMap(afero.NewOsFs(), *symbolMap)
		if err != nil {
			return err
		}
		m.Apply(results)
	}

	var opts []vex.Option
	if *sbomPath != "" {
		bom, err := sbom.Load(*sbomPath)
		if err != nil {
			return err
		}
		refs := bom.Refs(*component)
		if len(refs) == 0 {
			log.Printf("no %q component in SBOM; entries will omit component references", *component)
		}
		opts = append(opts, vex.WithComponentRefs(refs))
	}

	tr := tracer.New(g, state)
	synth := vex.NewSynthesizer(tr.Evaluate, opts...)
	doc := synth.Synthesize(results)

	for _, vuln := range doc.Vulnerabilities {
		log.Printf("%s: %s", vuln.ID, vuln.Analysis.State)
	}

	fs := utils.NewFs(afero.NewOsFs())
	if *vexOut != "" {
		if err := vex.Save(fs, doc, *vexOut); err != nil {
			return err
		}
		log.Printf("wrote VEX document to %s", *vexOut)
	}
	if *vexSplitDir != "" {
		if err := vex.SaveSplitByState(fs, doc, *vexSplitDir); err != nil {
			return err
		}
		log.Printf("wrote per-state VEX documents to %s", *vexSplitDir)
	}
	if *vexOut == "" && *vexSplitDir == "" {
		log.Println("no -vex-out or -vex-split-dir given; nothing written")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
